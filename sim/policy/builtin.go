package policy

// FIFO returns the policy used for agents configured without one: every
// queued payment is released in arrival order.
func FIFO() *Policy {
	return &Policy{
		ID:         "fifo",
		Parameters: map[string]float64{},
		trees: map[TreeKind]Node{
			TreePayment: &ActionNode{ID: "fifo_release", Action: ActionRelease},
		},
	}
}
