package reminder

// AlertProjector is the thin read contract the screen layer consumes:
// what alert is pending right now. All transitions are driven by the
// Coordinator; the display surface never needs anything else.
type AlertProjector interface {
	CurrentPendingAlert() *PendingAlert
}

var _ AlertProjector = (*Coordinator)(nil)
