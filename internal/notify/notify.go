package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/mail"
)

// Register wires the email side effects of account events onto bus.
func Register(bus *events.Bus, mailer mail.Mailer, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	bus.Subscribe(events.TopicUserInvited, func(ctx context.Context, ev events.Event) error {
		invite, ok := ev.Payload.(events.UserInvited)
		if !ok {
			return fmt.Errorf("unexpected payload %T", ev.Payload)
		}
		if err := mailer.Send(ctx, welcomeMessage(invite)); err != nil {
			return fmt.Errorf("send welcome email: %w", err)
		}
		logger.Info("welcome email sent", zap.Int64("user_id", invite.UserID))
		return nil
	})

	bus.Subscribe(events.TopicRegistrationInitiated, func(ctx context.Context, ev events.Event) error {
		reg, ok := ev.Payload.(events.RegistrationInitiated)
		if !ok {
			return fmt.Errorf("unexpected payload %T", ev.Payload)
		}
		return mailer.Send(ctx, mail.Message{
			To:      reg.Email,
			Subject: "Your verification code",
			Body: fmt.Sprintf("Your verification code is %s.\n\nIt expires at %s.\n",
				reg.Code, reg.ExpiresAt.Format("15:04 MST")),
		})
	})
}

func welcomeMessage(invite events.UserInvited) mail.Message {
	greeting := invite.Name
	if greeting == "" {
		greeting = invite.Email
	}
	workspace := invite.BusinessName
	if workspace == "" {
		workspace = "the CRM"
	}
	return mail.Message{
		To:      invite.Email,
		Subject: fmt.Sprintf("You have been invited to %s", workspace),
		Body: fmt.Sprintf("Hi %s,\n\nAn account with the %s role was created for you.\n\n"+
			"Email: %s\nTemporary password: %s\n\nPlease change it after your first login.\n",
			greeting, invite.Role, invite.Email, invite.Password),
	}
}
