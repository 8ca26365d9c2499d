package onvif

import (
	"encoding/xml"
	"fmt"
	"io"
)

// ConcreteSetDialect is the topic expression dialect used in subscribe filters.
const ConcreteSetDialect = "http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet"

// renderSubscribe builds a WS-BaseNotification Subscribe envelope asking the
// camera to deliver matching events to the consumer address for the given
// lease.
func renderSubscribe(messageID, consumer, topicFilter, lease string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope
	xmlns:e="http://www.w3.org/2003/05/soap-envelope"
	xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
	xmlns:wsa5="http://www.w3.org/2005/08/addressing">
	<e:Header>
		<wsa5:MessageID>%s</wsa5:MessageID>
		<wsa5:Action e:mustUnderstand="true">http://docs.oasis-open.org/wsn/bw-2/NotificationProducer/SubscribeRequest</wsa5:Action>
	</e:Header>
	<e:Body>
		<wsnt:Subscribe>
			<wsnt:ConsumerReference>
				<wsa5:Address>%s</wsa5:Address>
			</wsnt:ConsumerReference>
			<wsnt:Filter>
				<wsnt:TopicExpression Dialect="%s">%s</wsnt:TopicExpression>
			</wsnt:Filter>
			<wsnt:InitialTerminationTime>%s</wsnt:InitialTerminationTime>
		</wsnt:Subscribe>
	</e:Body>
</e:Envelope>
`, messageID, consumer, ConcreteSetDialect, topicFilter, lease)
}

// renderRenew builds a Renew envelope extending the subscription by the given
// lease. It is posted to the subscription's manager address.
func renderRenew(messageID, lease string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope
	xmlns:e="http://www.w3.org/2003/05/soap-envelope"
	xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
	xmlns:wsa5="http://www.w3.org/2005/08/addressing">
	<e:Header>
		<wsa5:MessageID>%s</wsa5:MessageID>
		<wsa5:Action e:mustUnderstand="true">http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest</wsa5:Action>
	</e:Header>
	<e:Body>
		<wsnt:Renew>
			<wsnt:TerminationTime>%s</wsnt:TerminationTime>
		</wsnt:Renew>
	</e:Body>
</e:Envelope>
`, messageID, lease)
}

// renderUnsubscribe builds an Unsubscribe envelope. No body content beyond
// the empty Unsubscribe element is required.
func renderUnsubscribe(messageID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope
	xmlns:e="http://www.w3.org/2003/05/soap-envelope"
	xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
	xmlns:wsa5="http://www.w3.org/2005/08/addressing">
	<e:Header>
		<wsa5:MessageID>%s</wsa5:MessageID>
		<wsa5:Action e:mustUnderstand="true">http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest</wsa5:Action>
	</e:Header>
	<e:Body>
		<wsnt:Unsubscribe></wsnt:Unsubscribe>
	</e:Body>
</e:Envelope>
`, messageID)
}

// subscribeResponseEnvelope matches the SubscribeResponse body by local
// element names; namespace prefixes vary between camera firmwares.
type subscribeResponseEnvelope struct {
	Body struct {
		SubscribeResponse struct {
			SubscriptionReference struct {
				Address string `xml:"Address"`
			} `xml:"SubscriptionReference"`
		} `xml:"SubscribeResponse"`
	} `xml:"Body"`
}

// parseSubscribeResponse extracts the subscription manager address advertised
// by the camera.
func parseSubscribeResponse(r io.Reader) (string, error) {
	var env subscribeResponseEnvelope
	if err := xml.NewDecoder(r).Decode(&env); err != nil {
		return "", fmt.Errorf("decode subscribe response: %w", err)
	}

	addr := env.Body.SubscribeResponse.SubscriptionReference.Address
	if addr == "" {
		return "", errNoManagerAddress
	}

	return addr, nil
}
