/*Package mqtt binds the connectivity core to the embedded gmqtt broker

The broker runs as a gmqtt plugin. Its hooks map onto the core like this:

	OnConnect       authentication gate, then session tracker (online)
	OnClose         session tracker (offline)
	OnSubscribed    subscription reconciler (merge)
	OnUnsubscribed  subscription reconciler (remove)
	OnMsgArrived    topic dispatcher

Devices connect with their device id as MQTT client id and their API key as
password. After a successful subscribe the device receives an acknowledgment
on

	$SYS/{device_id}/granted

whose payload is the JSON list of just granted subscriptions.

Inbound telemetry arrives on topics of the form {sensor_type}/status, for
example dht11/status or rgb_led/status. Which prefixes are handled is
decided by the dispatch registry handed to the Builder, not by the broker.

The Broker also implements iot.MessagePublisher, so the subscription
acknowledgment and the outbound command gateway publish through it.
*/
package mqtt
