package events

// Topic constants for domain events emitted by the terminal.
const (
	TopicSaleCompleted = "sale.completed"
	TopicSaleCanceled  = "sale.canceled"
	TopicSaleVoided    = "sale.voided"
	TopicTillOpened    = "till.opened"
	TopicTillClosed    = "till.closed"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicSaleCompleted,
		TopicSaleCanceled,
		TopicSaleVoided,
		TopicTillOpened,
		TopicTillClosed,
	}
}
