package metrics

import (
	"sync"
	"time"

	"cascadeflow/logger"
)

// Metric is one emitted measurement with its owning component and the
// caller's extra fields.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler receives every emitted metric in-process. The dashboard's
// bounded metric store is the main consumer.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registration; zero is never issued.
type MetricHandlerID uint64

// handlerRegistry fans emitted metrics out to registered consumers.
type handlerRegistry struct {
	mu   sync.RWMutex
	byID map[MetricHandlerID]MetricHandler
	last MetricHandlerID
}

var handlers = handlerRegistry{byID: make(map[MetricHandlerID]MetricHandler)}

func (r *handlerRegistry) register(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last++
	r.byID[r.last] = h
	return r.last
}

func (r *handlerRegistry) unregister(id MetricHandlerID) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// snapshot copies the current handlers so dispatch runs without the lock:
// a handler may itself emit a metric.
func (r *handlerRegistry) snapshot() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.byID) == 0 {
		return nil
	}
	out := make([]MetricHandler, 0, len(r.byID))
	for _, h := range r.byID {
		out = append(out, h)
	}
	return out
}

// RegisterMetricHandler subscribes h to every emitted metric and returns its
// registration id, or zero for a nil handler.
func RegisterMetricHandler(h MetricHandler) MetricHandlerID {
	return handlers.register(h)
}

// UnregisterMetricHandler drops the registration with the given id.
func UnregisterMetricHandler(id MetricHandlerID) {
	handlers.unregister(id)
}

// recordMetric logs one metric entry and hands the event to the registered
// handlers. Nameless metrics are dropped; an empty type reads as counter.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}

	logFields := make(logger.Fields, len(m.Fields)+3)
	for k, v := range m.Fields {
		logFields[k] = v
	}
	logFields["metric"] = m.Name
	logFields["metric_type"] = m.Type
	logFields["value"] = m.Value
	log.WithComponent(component).WithFields(logFields).Info("metric")

	for _, h := range handlers.snapshot() {
		h(m)
	}
	return m, true
}

// cloneFields copies fields so the emitted event never aliases the caller's
// map.
func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
