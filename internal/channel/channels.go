package channel

import (
	"cascadeflow/config"
	"cascadeflow/internal/channel/deriv"
	"cascadeflow/internal/channel/liq"
	"cascadeflow/internal/channel/profile"
)

// Flow bundles the raw-data channels connecting the exchange readers to
// their processors: liquidations, derivatives confirmations and market
// profiles. Signals take a different path, fanned out by the engine itself.
type Flow struct {
	Liq     *liq.Channels
	Deriv   *deriv.Channels
	Profile *profile.Channels
}

func NewFlow(cfg config.ChannelsConfig) *Flow {
	return &Flow{
		Liq:     liq.NewChannels(cfg.RawBuffer),
		Deriv:   deriv.NewChannels(cfg.DerivBuffer),
		Profile: profile.NewChannels(cfg.ProfileBuffer),
	}
}

// Close closes every stream. All readers must be stopped first.
func (f *Flow) Close() {
	f.Liq.Close()
	f.Deriv.Close()
	f.Profile.Close()
}
