/*Package iot provides the device connectivity core of the sensor hub

Devices connect to the embedded MQTT broker with their device id as client id
and their API key as password. The core tracks the session lifecycle of every
device, reconciles its persisted subscription set, stores reported status
telemetry and forwards outbound commands.

The package itself only contains the shared data model and the two
collaborator interfaces: the DeviceStore that owns persistence, and the
MessagePublisher that hands messages to the broker. The actual behavior lives
in the subpackages auth, session, subscription, dispatch and gateway; the
mqtt subpackage binds all of them to the broker's hooks.
*/
package iot
