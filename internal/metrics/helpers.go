package metrics

// Each helper is nil-receiver safe so callers can pass a nil *Collector
// when metrics aren't wanted, rather than branching at every call site.

func (c *Collector) SessionEstablished() {
	if c == nil {
		return
	}
	c.SessionsEstablished.Inc()
}

func (c *Collector) SessionDropped() {
	if c == nil {
		return
	}
	c.SessionsEstablished.Dec()
}

func (c *Collector) HandshakeAttempted() {
	if c == nil {
		return
	}
	c.HandshakeAttempts.Inc()
}

func (c *Collector) HandshakeFailed(reason string) {
	if c == nil {
		return
	}
	c.HandshakeFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RequestSent() {
	if c == nil {
		return
	}
	c.RequestsSent.Inc()
}

func (c *Collector) RequestRetried() {
	if c == nil {
		return
	}
	c.RequestsRetried.Inc()
}

func (c *Collector) RequestFailed() {
	if c == nil {
		return
	}
	c.RequestsFailed.Inc()
}

func (c *Collector) LookupStarted() {
	if c == nil {
		return
	}
	c.LookupsActive.Inc()
}

func (c *Collector) LookupFinished() {
	if c == nil {
		return
	}
	c.LookupsActive.Dec()
	c.LookupsFinished.Inc()
}
