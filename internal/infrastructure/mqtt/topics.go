package mqtt

// TopicPrefixSystem is the base for process-level status topics.
const TopicPrefixSystem = "sshswitch/system"

// Topics builds the topics the client publishes on its own behalf. Device
// topics belong to the bridge.
type Topics struct{}

// ClientStatus is the retained online/offline topic for clientID, e.g.
// sshswitch/system/sshswitch-garage/status.
func (Topics) ClientStatus(clientID string) string {
	return TopicPrefixSystem + "/" + clientID + "/status"
}
