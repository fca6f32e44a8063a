package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineCollector reads engine and graph statistics on every scrape
type engineCollector struct {
	stats StatsSource
	graph SizeSource

	packets    *prometheus.Desc
	candidates *prometheus.Desc
	results    *prometheus.Desc
	records    *prometheus.Desc
	skipped    *prometheus.Desc
	failures   *prometheus.Desc
	reloads    *prometheus.Desc

	fingerprints *prometheus.Desc
	treeNodes    *prometheus.Desc
	treeDepth    *prometheus.Desc
	loadedAt     *prometheus.Desc

	vertices *prometheus.Desc
	edges    *prometheus.Desc
}

func newEngineCollector(stats StatsSource, graph SizeSource) *engineCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &engineCollector{
		stats: stats,
		graph: graph,

		packets:    desc("packets_total", "Packets processed by the engine"),
		candidates: desc("candidate_payloads_total", "Payloads selected by the dispatch tree"),
		results:    desc("results_total", "Return operations reached"),
		records:    desc("records_total", "Records emitted to sinks"),
		skipped:    desc("skipped_records_total", "Results dropped for lack of an endpoint address"),
		failures:   desc("failures_total", "Recovered evaluation failures"),
		reloads:    desc("reloads_total", "Fingerprint set reloads"),

		fingerprints: desc("fingerprints", "Fingerprints in the active set"),
		treeNodes:    desc("tree_nodes", "Nodes in the active dispatch tree"),
		treeDepth:    desc("tree_depth", "Depth of the active dispatch tree"),
		loadedAt:     desc("fingerprints_loaded_timestamp_seconds", "When the active fingerprint set was published"),

		vertices: desc("graph_vertices", "Hosts in the aggregated graph"),
		edges:    desc("graph_edges", "Connections in the aggregated graph"),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.packets, c.candidates, c.results, c.records, c.skipped, c.failures, c.reloads,
		c.fingerprints, c.treeNodes, c.treeDepth, c.loadedAt,
	} {
		ch <- d
	}
	if c.graph != nil {
		ch <- c.vertices
		ch <- c.edges
	}
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats.Stats()

	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.packets, st.Packets)
	counter(c.candidates, st.Candidates)
	counter(c.results, st.Results)
	counter(c.records, st.Records)
	counter(c.skipped, st.Skipped)
	counter(c.failures, st.Failures)
	counter(c.reloads, st.Reloads)

	gauge(c.fingerprints, float64(st.Tree.Fingerprints))
	gauge(c.treeNodes, float64(st.Tree.Nodes))
	gauge(c.treeDepth, float64(st.Tree.Depth))
	gauge(c.loadedAt, float64(st.LoadedAt.UnixNano())/1e9)

	if c.graph != nil {
		vertices, edges := c.graph.Size()
		gauge(c.vertices, float64(vertices))
		gauge(c.edges, float64(edges))
	}
}
