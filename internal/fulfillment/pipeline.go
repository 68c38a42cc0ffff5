// Package fulfillment bundles product images for a paid order, emails the
// customer and marks the order shipped.
package fulfillment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/storage"
)

const maxImageBytes = 25 << 20

type Orders interface {
	LoadForFulfillment(ctx context.Context, id uuid.UUID) (*order.Fulfillment, error)
	MarkFulfilled(ctx context.Context, id uuid.UUID, downloadURL string) error
}

type Pipeline struct {
	orders     Orders
	store      storage.Gateway
	sender     notify.Sender
	httpClient *http.Client
	now        func() time.Time
}

func NewPipeline(orders Orders, store storage.Gateway, sender notify.Sender) *Pipeline {
	return &Pipeline{
		orders:     orders,
		store:      store,
		sender:     sender,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// Run fetches the order's product images, uploads them as one zip and emails
// the customer. Image and upload failures degrade the email; only a failure to
// load the order or to send the email is returned. An order already marked
// fulfilled is not emailed again.
func (p *Pipeline) Run(ctx context.Context, orderID uuid.UUID, email string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Stringer("order_id", orderID).Msg("fulfillment: panic recovered")
			err = fmt.Errorf("fulfillment: panic while processing order %s: %v", orderID, r)
		}
		if err != nil {
			metrics.RecordFulfillmentRun("failed")
		}
	}()

	f, err := p.orders.LoadForFulfillment(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: failed to load order")
		return fmt.Errorf("fulfillment: load order %s: %w", orderID, err)
	}
	if f.Order.FulfilledAt != nil {
		metrics.RecordFulfillmentRun("already_fulfilled")
		log.Info().Stringer("order_id", orderID).Time("fulfilled_at", *f.Order.FulfilledAt).Msg("fulfillment: order already fulfilled, skipping email")
		return nil
	}

	files, expected := p.collectImages(ctx, orderID, f.Lines)

	link := ""
	if len(files) > 0 {
		link = p.uploadBundle(ctx, orderID, files)
	}

	state := notify.NoDownloads
	switch {
	case link != "":
		state = notify.DownloadReady
	case expected:
		state = notify.DownloadUnavailable
	}

	msg, err := notify.FulfillmentEmail(f, email, link, state)
	if err != nil {
		return err
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: failed to send email")
		return fmt.Errorf("fulfillment: send email for order %s: %w", orderID, err)
	}
	if err := p.orders.MarkFulfilled(ctx, orderID, link); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: email sent but fulfillment not recorded")
	}

	metrics.RecordFulfillmentRun(outcome(state))
	log.Info().Stringer("order_id", orderID).Int("images", len(files)).Str("outcome", outcome(state)).Msg("fulfillment: run complete")
	return nil
}

func outcome(s notify.DownloadState) string {
	switch s {
	case notify.DownloadReady:
		return "bundled"
	case notify.DownloadUnavailable:
		return "degraded"
	default:
		return "no_images"
	}
}

type archiveFile struct {
	name string
	data []byte
}

// collectImages downloads every line's image. expected reports whether any
// line had an image to fetch.
func (p *Pipeline) collectImages(ctx context.Context, orderID uuid.UUID, lines []order.FulfillmentLine) (files []archiveFile, expected bool) {
	names := newNameSet()
	for _, line := range lines {
		if line.ImageURL == "" {
			continue
		}
		expected = true

		data, err := p.fetch(ctx, line.ImageURL)
		if err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Stringer("product_id", line.ProductID).Str("url", line.ImageURL).Msg("fulfillment: skipping image")
			continue
		}
		files = append(files, archiveFile{name: names.add(archiveName(line.Name, line.ImageURL)), data: data})
	}
	return files, expected
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

func (p *Pipeline) uploadBundle(ctx context.Context, orderID uuid.UUID, files []archiveFile) string {
	archive, err := buildZip(files, p.now())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: failed to build archive")
		return ""
	}

	key := fmt.Sprintf("orders/%s/images-%d.zip", orderID, p.now().Unix())
	obj, err := p.store.Upload(ctx, key, "application/zip", archive)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("key", key).Msg("fulfillment: failed to upload archive")
		return ""
	}
	return obj.URL
}

func buildZip(files []archiveFile, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func archiveName(productName, imageURL string) string {
	base := path.Base(imageURL)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return storage.SanitizeName(productName + "_" + base)
}

type nameSet map[string]struct{}

func newNameSet() nameSet { return nameSet{} }

// add returns name, or name with a numeric suffix before the extension when
// it was already taken.
func (s nameSet) add(name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		if _, taken := s[candidate]; !taken {
			s[candidate] = struct{}{}
			return candidate
		}
		candidate = stem + "_" + strconv.Itoa(n) + ext
	}
}
