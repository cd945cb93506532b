package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rollcall/pkg/directory"
)

const namespace = "rollcall"

// Collector holds the bot's Prometheus metrics on a private registry.
//
// It records group module outcomes and directory store outcomes.
type Collector struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	mentions       prometheus.Counter
	mentionReplies prometheus.Counter
	storeErrors    *prometheus.CounterVec
	groups         prometheus.Gauge
	reloads        prometheus.Counter
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	collector := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Group commands handled, by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		mentions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_resolved_total",
			Help:      "Group mentions expanded into member mentions.",
		}),
		mentionReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mention_replies_total",
			Help:      "Messages that received at least one mention reply.",
		}),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "directory",
				Name:      "store_errors_total",
				Help:      "Directory store failures, by operation and kind.",
			},
			[]string{"op", "kind"},
		),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "groups",
			Help:      "Groups in the directory after the last load or save.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "reloads_total",
			Help:      "External directory file changes picked up by the watcher.",
		}),
	}

	collector.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collector.commands,
		collector.mentions,
		collector.mentionReplies,
		collector.storeErrors,
		collector.groups,
		collector.reloads,
	)

	return collector
}

// Registry exposes the private registry for scraping and tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CommandHandled counts one group command.
func (c *Collector) CommandHandled(command string, outcome string) {
	c.commands.WithLabelValues(command, outcome).Inc()
}

// MentionReplied counts one replied message that expanded groups mentions.
func (c *Collector) MentionReplied(groups int) {
	c.mentionReplies.Inc()
	if groups > 0 {
		c.mentions.Add(float64(groups))
	}
}

// ObserveStoreError counts a failed directory load or save.
func (c *Collector) ObserveStoreError(op string, err error) {
	c.storeErrors.WithLabelValues(op, directory.ErrorKind(err)).Inc()
}

// ObserveGroups sets the current group count.
func (c *Collector) ObserveGroups(count int) {
	c.groups.Set(float64(count))
}

// ObserveReload counts an external directory change.
func (c *Collector) ObserveReload() {
	c.reloads.Inc()
}

var _ directory.Observer = (*Collector)(nil)
