package emailsvc

import (
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/edulane/shule/core"
)

// SentMessages records every rendered message in DEV/TEST mode so tests can
// assert on outgoing email (e.g. grab the password reset code).
var (
	sentMu       sync.Mutex
	SentMessages = make([]core.EmailMessage, 0)
)

func LastSentMessage() (core.EmailMessage, bool) {
	sentMu.Lock()
	defer sentMu.Unlock()
	if len(SentMessages) == 0 {
		return core.EmailMessage{}, false
	}
	return SentMessages[len(SentMessages)-1], true
}

func ResetSentMessages() {
	sentMu.Lock()
	defer sentMu.Unlock()
	SentMessages = SentMessages[:0]
}

type consoleService struct {
	conf       *core.Config
	subjPrefix string
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService returns an EmailService that writes messages to the log
// instead of delivering them. For DEV and TEST only.
func NewConsoleService(conf *core.Config) core.EmailService {
	return &consoleService{
		conf:       conf,
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if err := msg.Render(svc.conf); err != nil {
			log.Printf("emailsvc.console: rendering message: %v", err)
			continue
		}
		if !(msg.HasRecipients() && msg.HasContent()) {
			continue
		}

		sentMu.Lock()
		SentMessages = append(SentMessages, *msg)
		sentMu.Unlock()

		svc.print(*msg)
	}
}

func (svc *consoleService) print(msg core.EmailMessage) {
	body := &strings.Builder{}
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.conf.DefaultFromEmail)
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		_, _ = fmt.Fprintf(body, "CC: %s\r\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		_, _ = fmt.Fprintf(body, "BCC: %s\r\n", joinAddresses(msg.Bcc))
	}
	_, _ = fmt.Fprintf(body, "\r\n%s\r\n", msg.TextContent)
	log.Println(body.String())
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}
