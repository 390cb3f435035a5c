package metrics

import "time"

// Event names.
const (
	EventReconcile     = "reconcile"
	EventWebhookVerify = "webhook_verify"
	EventTxBuilt       = "tx_built"

	OpReconcileBatch = "reconcile_batch"
	OpBuildTx        = "build_tx"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
