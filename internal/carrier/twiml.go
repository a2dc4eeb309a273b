package carrier

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// holdPhrase is spoken by the carrier's own TTS while the WebSocket
// handshake completes, so the caller never hears dead air.
const holdPhrase = "Pronto. Un momento per favore."

// StreamTwiML renders the TwiML response for the inbound call webhook: a
// short pause, a hold phrase in the carrier's Italian voice, then a
// bidirectional stream connect to wsURL with the call identifiers passed as
// custom parameters.
func StreamTwiML(wsURL, callSid, caller string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response>")
	b.WriteString(`<Pause length="1"/>`)
	fmt.Fprintf(&b, `<Say voice="Google.it-IT-Wavenet-A" language="it-IT">%s</Say>`, escapeXML(holdPhrase))
	b.WriteString("<Connect>")
	fmt.Fprintf(&b, `<Stream url="%s">`, escapeXML(wsURL))
	fmt.Fprintf(&b, `<Parameter name="call_sid" value="%s"/>`, escapeXML(callSid))
	fmt.Fprintf(&b, `<Parameter name="caller" value="%s"/>`, escapeXML(caller))
	b.WriteString("</Stream>")
	b.WriteString("</Connect>")
	b.WriteString("</Response>")
	return b.String()
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return ""
	}
	return b.String()
}
