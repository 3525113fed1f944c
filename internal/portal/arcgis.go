package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rowjay/portal-backup/internal/util"
)

const searchPageSize = 100

type Options struct {
	URL             string
	Username        string
	Password        string
	Referer         string
	TokenExpiration time.Duration
	Timeout         time.Duration
	AuthRetries     int
	AuthBackoff     time.Duration
}

// ArcGIS talks to an ArcGIS Online / Enterprise portal over its REST API.
type ArcGIS struct {
	opts   Options
	client *resty.Client
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewArcGIS(opts Options) *ArcGIS {
	if opts.Referer == "" {
		opts.Referer = "pbu"
	}
	if opts.TokenExpiration == 0 {
		opts.TokenExpiration = 2 * time.Hour
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.URL, "/"))
	client.SetHeader("Referer", opts.Referer)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	return &ArcGIS{opts: opts, client: client, now: time.Now}
}

type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type envelope struct {
	Error *apiError `json:"error"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// Authenticate obtains a token if none is cached or the cached one is about to expire.
func (a *ArcGIS) Authenticate(ctx context.Context) error {
	_, err := a.accessToken(ctx)
	return err
}

func (a *ArcGIS) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Add(time.Minute).Before(a.expires) {
		return a.token, nil
	}
	if a.opts.Username == "" {
		return "", nil
	}
	var tok tokenResponse
	err := util.Retry(ctx, a.opts.AuthRetries, a.opts.AuthBackoff, func(int) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"username":   a.opts.Username,
				"password":   a.opts.Password,
				"referer":    a.opts.Referer,
				"client":     "referer",
				"expiration": strconv.Itoa(int(a.opts.TokenExpiration / time.Minute)),
				"f":          "json",
			}).
			Post("/sharing/rest/generateToken")
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(err)
			}
			return err
		}
		return decode(resp, &tok)
	})
	if err != nil {
		return "", fmt.Errorf("%w: generate token: %v", ErrRemote, err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("%w: generate token: empty token", ErrRemote)
	}
	a.token = tok.Token
	if tok.Expires > 0 {
		a.expires = time.UnixMilli(tok.Expires)
	} else {
		a.expires = a.now().Add(a.opts.TokenExpiration)
	}
	return a.token, nil
}

func (a *ArcGIS) invalidate() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *ArcGIS) request(ctx context.Context) (*resty.Request, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req := a.client.R().SetContext(ctx).SetQueryParam("f", "json")
	if token != "" {
		req.SetQueryParam("token", token)
	}
	return req, nil
}

type searchResponse struct {
	Total     int    `json:"total"`
	NextStart int    `json:"nextStart"`
	Results   []Item `json:"results"`
}

func (a *ArcGIS) Search(ctx context.Context, tag, itemType string, limit int) ([]Item, error) {
	query := fmt.Sprintf("tags:%q", tag)
	if itemType != "" {
		query += fmt.Sprintf(" AND type:%q", itemType)
	}
	var items []Item
	start := 1
	for len(items) < limit {
		num := limit - len(items)
		if num > searchPageSize {
			num = searchPageSize
		}
		req, err := a.request(ctx)
		if err != nil {
			return nil, err
		}
		var page searchResponse
		resp, err := req.SetQueryParams(map[string]string{
			"q":     query,
			"num":   strconv.Itoa(num),
			"start": strconv.Itoa(start),
		}).Get("/sharing/rest/search")
		if err := a.check("search", resp, err, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Results...)
		if page.NextStart <= 0 || len(page.Results) == 0 {
			break
		}
		start = page.NextStart
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type editingInfo struct {
	LastEditDate int64 `json:"lastEditDate"`
}

type layerRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type serviceResponse struct {
	Layers []layerRef `json:"layers"`
	Tables []layerRef `json:"tables"`
}

type layerResponse struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	EditingInfo editingInfo `json:"editingInfo"`
}

func (a *ArcGIS) Metadata(ctx context.Context, item Item) (Metadata, error) {
	if item.URL == "" {
		return Metadata{}, fmt.Errorf("%w: item %s has no service url", ErrRemote, item.ID)
	}
	req, err := a.request(ctx)
	if err != nil {
		return Metadata{}, err
	}
	var svc serviceResponse
	resp, err := req.Get(item.URL)
	if err := a.check("service info", resp, err, &svc); err != nil {
		return Metadata{}, err
	}
	meta := Metadata{Modified: item.Modified}
	for _, ref := range svc.Layers {
		l, err := a.layer(ctx, item.URL, ref)
		if err != nil {
			return Metadata{}, err
		}
		meta.Layers = append(meta.Layers, l)
	}
	for _, ref := range svc.Tables {
		t, err := a.layer(ctx, item.URL, ref)
		if err != nil {
			return Metadata{}, err
		}
		meta.Tables = append(meta.Tables, t)
	}
	return meta, nil
}

func (a *ArcGIS) layer(ctx context.Context, serviceURL string, ref layerRef) (Layer, error) {
	req, err := a.request(ctx)
	if err != nil {
		return Layer{}, err
	}
	var lr layerResponse
	resp, err := req.Get(strings.TrimRight(serviceURL, "/") + "/" + strconv.Itoa(ref.ID))
	if err := a.check("layer info", resp, err, &lr); err != nil {
		return Layer{}, err
	}
	name := lr.Name
	if name == "" {
		name = ref.Name
	}
	return Layer{ID: ref.ID, Name: name, LastEditDate: lr.EditingInfo.LastEditDate}, nil
}

func (a *ArcGIS) Export(ctx context.Context, item Item, title, format string) (Export, error) {
	req, err := a.request(ctx)
	if err != nil {
		return Export{}, err
	}
	var out Export
	resp, err := req.SetFormData(map[string]string{
		"itemId":       item.ID,
		"exportFormat": format,
		"title":        title,
	}).Post("/sharing/rest/content/users/" + url.PathEscape(a.opts.Username) + "/export")
	if err := a.check("export", resp, err, &out); err != nil {
		return Export{}, err
	}
	if out.ExportItemID == "" {
		return Export{}, fmt.Errorf("%w: export %s: no export item id", ErrRemote, item.ID)
	}
	return out, nil
}

// Download streams the item data to dir/fileName through a temporary file so a
// failed transfer never replaces an existing archive.
func (a *ArcGIS) Download(ctx context.Context, itemID, dir, fileName string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	req := a.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if token != "" {
		req.SetQueryParam("token", token)
	}
	resp, err := req.Get("/sharing/rest/content/items/" + url.PathEscape(itemID) + "/data")
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrRemote, itemID, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: download %s: status %d", ErrRemote, itemID, resp.StatusCode())
	}
	// The portal answers 200 with a JSON error when the export is not ready.
	head := make([]byte, len(zipLocalHeader))
	n, err := io.ReadFull(body, head)
	if err != nil || !isZipHeader(head[:n]) {
		return fmt.Errorf("%w: download %s: %v", ErrRemote, itemID, notArchive(head[:n], body))
	}

	tmp, err := os.CreateTemp(dir, "."+fileName+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, io.MultiReader(bytes.NewReader(head), body)); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: download %s: %v", ErrRemote, itemID, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, fileName))
}

var (
	zipLocalHeader = []byte("PK\x03\x04")
	zipEmptyHeader = []byte("PK\x05\x06")
)

func isZipHeader(b []byte) bool {
	return bytes.Equal(b, zipLocalHeader) || bytes.Equal(b, zipEmptyHeader)
}

// notArchive explains a download body that is not a zip, using the portal
// error envelope when the body carries one.
func notArchive(head []byte, rest io.Reader) error {
	tail, _ := io.ReadAll(io.LimitReader(rest, 64<<10))
	payload := append(head, tail...)
	var env envelope
	if json.Unmarshal(payload, &env) == nil && env.Error != nil {
		return env.Error
	}
	if len(payload) == 0 {
		return errors.New("empty response body")
	}
	return errors.New("response is not a zip archive")
}

type deleteResponse struct {
	Success bool   `json:"success"`
	ItemID  string `json:"itemId"`
}

func (a *ArcGIS) Delete(ctx context.Context, itemID string) error {
	req, err := a.request(ctx)
	if err != nil {
		return err
	}
	var out deleteResponse
	resp, err := req.Post("/sharing/rest/content/users/" + url.PathEscape(a.opts.Username) + "/items/" + url.PathEscape(itemID) + "/delete")
	if err := a.check("delete", resp, err, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("%w: delete %s: not deleted", ErrRemote, itemID)
	}
	return nil
}

func (a *ArcGIS) check(op string, resp *resty.Response, err error, v any) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRemote, op, err)
	}
	if err := decode(resp, v); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && (ae.Code == 498 || ae.Code == 499) {
			a.invalidate()
		}
		return fmt.Errorf("%w: %s: %v", ErrRemote, op, err)
	}
	return nil
}

// decode handles the portal convention of reporting errors inside a 200 body.
func decode(resp *resty.Response, v any) error {
	if resp.IsError() {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	body := resp.Body()
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("portal error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

var _ Portal = (*ArcGIS)(nil)
