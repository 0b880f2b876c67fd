package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/queue"
)

// DomainMessage is the payload of the domain queue. The consumer is the
// external domain provisioning service; only the queue contract lives
// here. The queue's two-minute start delay gives DNS changes time to
// propagate before the first provisioning attempt.
type DomainMessage struct {
	SiteID     uuid.UUID `json:"site_id"`
	DomainName string    `json:"domain_name"`
}

// EnqueueDomainProvision schedules custom domain provisioning for a
// site.
func EnqueueDomainProvision(ctx context.Context, mq *queue.Client, siteID uuid.UUID, domainName string) error {
	msg := DomainMessage{SiteID: siteID, DomainName: domainName}
	msgBuf := new(bytes.Buffer)
	if err := json.NewEncoder(msgBuf).Encode(msg); err != nil {
		return fmt.Errorf("site.EnqueueDomainProvision: %w", err)
	}

	err := mq.Publish(ctx, queue.Domain, msgBuf.Bytes())
	if err != nil {
		return fmt.Errorf("site.EnqueueDomainProvision: %w", err)
	}

	return nil
}
