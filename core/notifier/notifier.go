/*Package notifier provides implementations of the core.Notifier interface.

The backend emits a notification for every create, update and delete of a
resource. In production the notifications go to a Kafka topic, where the
reminder pipeline picks up medication and medication-event changes. Without
a broker, the log notifier just makes them visible.
*/
package notifier

import (
	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/logger"
)

// Log is a notifier which writes all notifications to the log. It is the
// fallback when no Kafka brokers are configured.
type Log struct{}

// Notify implements core.Notifier
func (l Log) Notify(resource string, operation core.Operation, payload []byte) {
	logger.Default().WithField("resource", resource).
		WithField("operation", string(operation)).
		Debugln("notification:", string(payload))
}
