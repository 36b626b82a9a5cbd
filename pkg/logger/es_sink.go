package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
)

// WriteTimeout bounds a single bulk request issued by IndexDoc.
const WriteTimeout = 5 * time.Second

// Doc is one document bound for an index. A zero At is stamped with the write time.
type Doc struct {
	Index   string
	Kind    string
	Session string
	At      time.Time
	Body    any
}

type docSource struct {
	Kind      string    `json:"kind"`
	Session   string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"@timestamp"`
	Body      any       `json:"body"`
}

type bulkMeta struct {
	Index struct {
		Name string `json:"_index"`
	} `json:"index"`
}

// IndexDoc writes a single document with WriteTimeout. A nil client is a no-op.
func IndexDoc(client *elasticsearch.Client, doc Doc) error {
	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()
	return IndexDocs(ctx, client, []Doc{doc})
}

// IndexDocs writes docs in one bulk request. Every rejected item is reported in the
// returned error. A nil client or an empty batch is a no-op.
func IndexDocs(ctx context.Context, client *elasticsearch.Client, docs []Doc) error {
	if client == nil || len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	now := time.Now()
	for _, d := range docs {
		var meta bulkMeta
		meta.Index.Name = d.Index
		src := docSource{Kind: d.Kind, Session: d.Session, Timestamp: d.At, Body: d.Body}
		if src.Timestamp.IsZero() {
			src.Timestamp = now
		}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(src); err != nil {
			return fmt.Errorf("encode %s document: %w", d.Kind, err)
		}
	}

	res, err := esapi.BulkRequest{Body: &buf}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("send bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk write failed: %s", res.String())
	}

	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		Warnf("[IndexDocs] decode bulk response: %v", err)
		return nil
	}
	if !resp.Errors {
		return nil
	}
	var errs []error
	for i, item := range resp.Items {
		for _, r := range item {
			if len(r.Error) > 0 {
				kind := ""
				if i < len(docs) {
					kind = docs[i].Kind
				}
				errs = append(errs, fmt.Errorf("bulk item %d (%s) status=%d: %s", i, kind, r.Status, r.Error))
			}
		}
	}
	return errors.Join(errs...)
}
