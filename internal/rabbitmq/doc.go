// Package rabbitmq owns the broker connection used by the AMQP ingress.
//
// ConnectionManager dials once, watches the connection and redials with
// exponential backoff when it drops. Callers open short-lived channels from
// it and re-open them after OnConnected.
package rabbitmq
