// Package expand drives the remote image editor through a browser
// session: it verifies the account balance, uploads the source image,
// triggers canvas expansion, and captures the generated result URLs
// from the editor's backend responses.
package expand

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/engine"
	"github.com/veldt/outpaint/job"
	"github.com/veldt/outpaint/session"
)

const (
	creditPageURL = "https://jimeng.jianying.com/ai-tool/video/generate"
	editorPageURL = "https://jimeng.jianying.com/ai-tool/image-edit"

	creditAPIPath   = "/commerce/v1/benefits/user_credit"
	paintingAPIPath = "/mweb/v1/painting"

	uploadInputSel  = `.uploadFileDiv-_z6JmT > input[type="file"]`
	canvasButtonSel = `.editor-ui-configuration-tool-bar-group > button[type="button"]`
	ratioXPath      = `//div[contains(@class, "radio-group-")]//label[contains(., "%s")]`
	expandXPath     = `//div[contains(@class, "out-paint-button-")]//div[contains(text(), "扩图")]`

	// bannedRet is the editor backend's return code for a suspended
	// account.
	bannedRet = "1018"
)

// Executor runs one expansion attempt per Execute call, each on its own
// tab of the worker's shared browser connection.
type Executor struct {
	logger         *slog.Logger
	attemptTimeout time.Duration
	aspectRatio    string
}

// Option configures an Executor.
type Option func(*Executor)

// WithAttemptTimeout caps the wall time of one browser attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) { e.attemptTimeout = d }
}

// WithAspectRatio sets the target canvas ratio label, e.g. "9:16".
func WithAspectRatio(r string) Option {
	return func(e *Executor) { e.aspectRatio = r }
}

// New creates an Executor.
func New(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		logger:         logger,
		attemptTimeout: 2 * time.Minute,
		aspectRatio:    "9:16",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ engine.Executor = (*Executor)(nil)

// Execute performs one attempt: open a tab, check credit, run the
// expansion, and report the outcome with the observed balance attached.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, j *job.Job) engine.Outcome {
	tabCtx, detach, err := sess.Attach()
	if err != nil {
		return engine.Retryable(fmt.Sprintf("attach tab: %v", err))
	}
	defer detach()

	tabCtx, cancel := context.WithTimeout(tabCtx, e.attemptTimeout)
	defer cancel()

	// The tab context descends from the session, not the job. Propagate
	// job cancellation by hand.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	credit, o := e.checkCredit(tabCtx, j)
	if o != nil {
		return *o
	}

	outcome := e.runExpansion(tabCtx, j)
	outcome.Credit = credit
	outcome.CreditKnown = true
	return outcome
}

// checkCredit loads the account page and reads the balance from the
// intercepted credit response. A balance below the engine's threshold
// is reported through the returned outcome; the policy does the
// evicting.
func (e *Executor) checkCredit(ctx context.Context, j *job.Job) (int, *engine.Outcome) {
	body, err := captureResponse(ctx, creditAPIPath, 31*time.Second, func() error {
		return chromedp.Run(ctx, network.Enable(), chromedp.Navigate(creditPageURL))
	})
	if err != nil {
		o := engine.Retryable(fmt.Sprintf("load credit page: %v", err))
		return 0, &o
	}

	credit, err := parseCredit(body)
	if err != nil {
		o := engine.Retryable(fmt.Sprintf("parse credit response: %v", err))
		return 0, &o
	}

	e.logger.Debug("credit observed",
		slog.String("job_id", j.ID.String()),
		slog.String("worker", j.Worker),
		slog.Int("credit", credit),
	)
	return credit, nil
}

// runExpansion uploads the source image, selects the target ratio, and
// clicks expand, then classifies the editor backend's painting
// response.
func (e *Executor) runExpansion(ctx context.Context, j *job.Job) engine.Outcome {
	body, err := captureResponse(ctx, paintingAPIPath, 61*time.Second, func() error {
		return chromedp.Run(ctx,
			chromedp.Navigate(editorPageURL),
			chromedp.WaitVisible(uploadInputSel, chromedp.ByQuery),
			chromedp.SetUploadFiles(uploadInputSel, []string{j.SourceRef}, chromedp.ByQuery),
			chromedp.Click(canvasButtonSel, chromedp.ByQuery),
			chromedp.Click(fmt.Sprintf(ratioXPath, e.aspectRatio), chromedp.BySearch),
			chromedp.Click(expandXPath, chromedp.BySearch),
		)
	})
	if err != nil {
		return engine.Retryable(fmt.Sprintf("drive editor page: %v", err))
	}

	return classifyPainting(body)
}

// ──────────────────────────────────────────────────
// Response capture
// ──────────────────────────────────────────────────

// captureResponse runs drive while listening for the first backend
// response whose URL ends in apiPath, and returns that response body.
func captureResponse(ctx context.Context, apiPath string, wait time.Duration, drive func() error) ([]byte, error) {
	bodyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	var reqID network.RequestID
	chromedp.ListenTarget(ctx, func(ev any) {
		switch v := ev.(type) {
		case *network.EventResponseReceived:
			if reqID == "" && strings.HasSuffix(strings.SplitN(v.Response.URL, "?", 2)[0], apiPath) {
				reqID = v.RequestID
			}
		case *network.EventLoadingFinished:
			if reqID == "" || v.RequestID != reqID {
				return
			}
			id := reqID
			c := chromedp.FromContext(ctx)
			go func() {
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, c.Target))
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				select {
				case bodyCh <- body:
				default:
				}
			}()
		}
	})

	if err := drive(); err != nil {
		return nil, err
	}

	select {
	case body := <-bodyCh:
		return body, nil
	case err := <-errCh:
		return nil, fmt.Errorf("read response body: %w", err)
	case <-time.After(wait):
		return nil, fmt.Errorf("no %s response within %s", apiPath, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Response parsing
// ──────────────────────────────────────────────────

type creditResponse struct {
	Data struct {
		Credit struct {
			GiftCredit     int `json:"gift_credit"`
			PurchaseCredit int `json:"purchase_credit"`
			VipCredit      int `json:"vip_credit"`
		} `json:"credit"`
	} `json:"data"`
}

// parseCredit sums the account's credit buckets.
func parseCredit(body []byte) (int, error) {
	var resp creditResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	c := resp.Data.Credit
	return c.GiftCredit + c.PurchaseCredit + c.VipCredit, nil
}

type paintingResponse struct {
	Ret    string `json:"ret"`
	ErrMsg string `json:"errmsg"`
	Data   struct {
		ItemList []struct {
			Image struct {
				LargeImages []struct {
					ImageURL string `json:"image_url"`
				} `json:"large_images"`
			} `json:"image"`
		} `json:"item_list"`
	} `json:"data"`
}

// classifyPainting maps the editor backend's painting response onto an
// outcome: rate limiting retries, a ban evicts, a clean response yields
// the generated image URLs.
func classifyPainting(body []byte) engine.Outcome {
	var resp paintingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return engine.Fatal(outpaint.CodeResultRetrieval, fmt.Sprintf("parse painting response: %v", err))
	}

	switch {
	case resp.Ret == "0":
		// fall through to URL extraction
	case resp.Ret == "1" && resp.ErrMsg == "api rate limit":
		return engine.Retryable("backend rate limited")
	case resp.Ret == bannedRet:
		return engine.Unhealthy("account suspended")
	default:
		return engine.Retryable(fmt.Sprintf("painting request failed: ret=%s errmsg=%s", resp.Ret, resp.ErrMsg))
	}

	urls := make([]string, 0, len(resp.Data.ItemList))
	for _, item := range resp.Data.ItemList {
		if len(item.Image.LargeImages) > 0 && item.Image.LargeImages[0].ImageURL != "" {
			urls = append(urls, item.Image.LargeImages[0].ImageURL)
		}
	}
	if len(urls) == 0 {
		return engine.Fatal(outpaint.CodeBadInput, "no result images in painting response")
	}
	return engine.Success(urls...)
}
