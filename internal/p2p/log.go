package p2p

// Logf writes a debug line when the node runs with Debug set.
func (n *Node) Logf(format string, args ...any) {
	if !n.cfg.Debug {
		return
	}
	n.log.Sugar().Debugf(format, args...)
}
