package site

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/statichq/pages/internal/queue"
)

// DeletionMessage is the payload of the site-deletion queue.
type DeletionMessage struct {
	SiteID     uuid.UUID `json:"site_id"`
	Owner      string    `json:"owner"`
	Repository string    `json:"repository"`
}

func DecodeDeletionMessage(body []byte) (*DeletionMessage, error) {
	var msg DeletionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if msg.SiteID == uuid.Nil {
		return nil, fmt.Errorf("missing %s body field", "site_id")
	}
	return &msg, nil
}

// EnqueueDeletion schedules removal of a site's published output and
// database record.
func EnqueueDeletion(ctx context.Context, mq *queue.Client, st *Site) error {
	msg := DeletionMessage{SiteID: st.ID, Owner: st.Owner, Repository: st.Repository}
	msgBuf := new(bytes.Buffer)
	if err := json.NewEncoder(msgBuf).Encode(msg); err != nil {
		return fmt.Errorf("site.EnqueueDeletion: %w", err)
	}

	err := mq.Publish(ctx, queue.SiteDeletion, msgBuf.Bytes())
	if err != nil {
		return fmt.Errorf("site.EnqueueDeletion: %w", err)
	}

	return nil
}

// Deleter consumes the site-deletion queue. It removes the published
// site and preview prefixes from object storage, then the site row.
// The queue retries it up to its configured attempts, so each step is
// safe to repeat.
type Deleter struct {
	Store  *Store     // required
	S3     *s3.Client // required
	Bucket string     // required
}

func (d *Deleter) Delete(ctx context.Context, msg *DeletionMessage) error {
	for _, prefix := range deletionPrefixes(msg.Owner, msg.Repository) {
		if err := d.deletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("site.Deleter: %w", err)
		}
	}

	err := d.Store.DeleteSite(ctx, msg.SiteID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("site.Deleter: %w", err)
	}

	slog.Info("deleted site", "site_id", msg.SiteID, "owner", msg.Owner, "repository", msg.Repository)
	return nil
}

// deletionPrefixes lists the object storage prefixes a site publishes
// under.
func deletionPrefixes(owner, repository string) []string {
	return []string{
		path.Join("site", owner, repository) + "/",
		path.Join("preview", owner, repository) + "/",
	}
}

func (d *Deleter) deletePrefix(ctx context.Context, prefix string) error {
	var continuationToken *string
	for {
		listResp, err := d.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &d.Bucket,
			Prefix:            &prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return err
		}
		if len(listResp.Contents) == 0 {
			return nil
		}

		objects := make([]types.ObjectIdentifier, 0, len(listResp.Contents))
		for _, object := range listResp.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: object.Key})
		}
		_, err = d.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &d.Bucket,
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return err
		}

		if listResp.IsTruncated == nil || !*listResp.IsTruncated {
			return nil
		}
		continuationToken = listResp.NextContinuationToken
	}
}
