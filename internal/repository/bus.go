package repository

// MessageBus carries decision events out of the engine. Publishing is
// fire-and-forget: a lost event never rolls back a committed decision.
type MessageBus interface {
	Publish(topic string, data []byte) error
}
