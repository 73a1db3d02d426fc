// Package amqp lets controllers drive the bridge over RabbitMQ.
//
// Server consumes request deliveries from a durable queue, forwards each one
// to a bridge.Sender and publishes the outcome to the delivery's reply_to
// queue under the same correlation id. Client is the controller side: it
// publishes requests and matches replies arriving on an exclusive reply
// queue. Client implements bridge.Sender, so bridge.SendTyped works across
// the broker as well as in process.
//
// Request body:
//
//	{"type": "CREATE_FRAME", "params": {"width": 100, "height": 100}}
//
// Reply body:
//
//	{"id": "<correlation id>", "success": true, "result": {"nodeId": "1:23"}}
//	{"id": "<correlation id>", "success": false, "error": "...", "errorKind": "not_connected"}
package amqp
