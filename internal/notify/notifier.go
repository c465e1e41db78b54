package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dosewell/dosewell/internal/dose"
	"github.com/dosewell/dosewell/internal/model"
	"github.com/dosewell/dosewell/internal/store"
)

const phrasingTimeout = 5 * time.Second

// Sender delivers one payload to one subscription. *Service implements it.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Generator phrases notification bodies from structured facts. Optional;
// failures fall back to fixed templates and never block delivery.
type Generator interface {
	Generate(ctx context.Context, facts map[string]string) (string, error)
}

// PushNotifier delivers dose reminders and family escalation alerts over web
// push. It fans out to every device subscription, pruning the expired ones.
type PushNotifier struct {
	sender  Sender
	storage store.Storage
	gen     Generator
	logger  *slog.Logger
}

// NewPushNotifier creates a notifier. gen may be nil.
func NewPushNotifier(sender Sender, storage store.Storage, gen Generator, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		sender:  sender,
		storage: storage,
		gen:     gen,
		logger:  logger.With("component", "notify"),
	}
}

// SendReminder notifies the user's own devices that a dose is due. The tag
// is the occurrence key, so a repeat replaces the initial notification
// instead of stacking a new one.
func (n *PushNotifier) SendReminder(occ dose.Occurrence, stage string) error {
	subs, err := n.storage.PushSubscriptionsForUser(occ.UserID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	title := "Medication reminder"
	fallback := fmt.Sprintf("Time to take %s (%s).", occ.MedicationName, occ.Dosage)
	if stage == dose.StageRepeat {
		title = "Medication still due"
		fallback = fmt.Sprintf("%s (%s) is still waiting for you.", occ.MedicationName, occ.Dosage)
	}

	body := n.phrase(map[string]string{
		"kind":       "reminder",
		"stage":      stage,
		"medication": occ.MedicationName,
		"dosage":     occ.Dosage,
		"time":       occ.Key.Time,
	}, fallback)

	n.fanOut(subs, Payload{
		Title: title,
		Body:  body,
		URL:   "/doses",
		Tag:   occ.Key.String(),
	})
	return nil
}

// SendFamilyAlert notifies the user's designated family member that a dose
// was missed. Without a designated member (or devices for them) there is
// nobody to tell; that is logged, not an error.
func (n *PushNotifier) SendFamilyAlert(occ dose.Occurrence) error {
	member, err := n.storage.DesignatedFamilyMember(occ.UserID)
	if err != nil {
		return fmt.Errorf("designated family member: %w", err)
	}
	if member == nil {
		n.logger.Warn("missed dose with no designated family member", "user_id", occ.UserID, "occurrence", occ.Key.String())
		return nil
	}

	subs, err := n.storage.PushSubscriptionsForFamilyMember(member.ID)
	if err != nil {
		return fmt.Errorf("list family subscriptions: %w", err)
	}
	if len(subs) == 0 {
		n.logger.Warn("designated family member has no devices", "member_id", member.ID)
		return nil
	}

	body := n.phrase(map[string]string{
		"kind":        "family_alert",
		"member_name": member.Name,
		"medication":  occ.MedicationName,
		"dosage":      occ.Dosage,
		"time":        occ.Key.Time,
	}, fmt.Sprintf("The %s dose of %s was not taken.", occ.Key.Time, occ.MedicationName))

	n.fanOut(subs, Payload{
		Title: "Missed dose",
		Body:  body,
		URL:   "/family",
		Tag:   "family-" + occ.Key.String(),
	})
	return nil
}

func (n *PushNotifier) fanOut(subs []model.PushSubscription, payload Payload) {
	for i := range subs {
		sub := subs[i]
		if err := n.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := n.storage.DeletePushSubscriptionByEndpoint(sub.Endpoint); err != nil {
					n.logger.Error("delete expired subscription", "error", err)
				}
				continue
			}
			n.logger.Error("send push", "endpoint", sub.Endpoint, "error", err)
		}
	}
}

func (n *PushNotifier) phrase(facts map[string]string, fallback string) string {
	if n.gen == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), phrasingTimeout)
	defer cancel()

	text, err := n.gen.Generate(ctx, facts)
	if err != nil || text == "" {
		n.logger.Debug("phrasing failed, using template", "error", err)
		return fallback
	}
	return text
}
