package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BlinkPay/internal/metrics"
	"BlinkPay/internal/middleware"
	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
	"BlinkPay/utils"
)

// DefaultSignatureHeader carries the webhook HMAC.
const DefaultSignatureHeader = "helius-signature"

const DefaultMaxWebhookBody = 10 << 20

type BatchDecoder interface {
	DecodeBatch(body []byte) ([]models.TransferEvent, []services.DecodeError, error)
}

type BatchReconciler interface {
	Reconcile(ctx context.Context, batch []models.TransferEvent) services.ReconcileReport
}

type ActionAPI interface {
	Describe(ctx context.Context, id string) (*models.ActionGetResponse, error)
	Pay(ctx context.Context, id, account, amount string) (*models.ActionPostResponse, error)
	Manifest() models.ActionsManifest
}

// RecordStore is the read side used by the settlement lookups.
type RecordStore interface {
	Obligation(ctx context.Context, id string) (*models.Obligation, error)
	SettlementsBySignature(ctx context.Context, signature string) ([]models.SettlementRecord, error)
	SettlementsByObligation(ctx context.Context, obligationID string) ([]models.SettlementRecord, error)
}

// DBProbe 就绪检查用的数据库探针
type DBProbe interface {
	Ping(ctx context.Context) error
	LatestSettledSlot(ctx context.Context) (uint64, error)
}

type ChainProbe interface {
	Health(ctx context.Context) error
}

type WebhookConfig struct {
	Secret          string
	SignatureHeader string
}

// Deps 是 Handler 的全部依赖，由 serve 命令注入
type Deps struct {
	Decoder     BatchDecoder
	Reconciler  BatchReconciler
	Actions     ActionAPI
	Records     RecordStore
	DB          DBProbe
	Chain       ChainProbe
	WebhookAuth WebhookConfig
	Metrics     metrics.Recorder
	Gatherer    prometheus.Gatherer
	Log         *utils.Logger
	// ReadyDelay holds /readyz at 503 for this long after start.
	ReadyDelay time.Duration
	// MaxWebhookBody caps the webhook body in bytes; larger bodies are rejected.
	MaxWebhookBody int64
}

type Handler struct {
	Deps
	startedAt time.Time
}

func New(deps Deps) *Handler {
	if deps.Log == nil {
		deps.Log = utils.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.MaxWebhookBody <= 0 {
		deps.MaxWebhookBody = DefaultMaxWebhookBody
	}
	if deps.WebhookAuth.SignatureHeader == "" {
		deps.WebhookAuth.SignatureHeader = DefaultSignatureHeader
	}
	return &Handler{Deps: deps, startedAt: time.Now()}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	r.POST("/webhook", h.Webhook)

	actions := r.Group("/", middleware.CORS())
	{
		actions.GET("/actions.json", h.ActionsManifest)
		actions.OPTIONS("/actions.json", h.ActionOptions)
		actions.GET(services.ActionPathPrefix+":id", h.ActionGet)
		actions.POST(services.ActionPathPrefix+":id", h.ActionPost)
		actions.OPTIONS(services.ActionPathPrefix+":id", h.ActionOptions)
	}

	local := r.Group("/", middleware.LocalOnly())
	{
		local.GET("/settlements/:signature", h.SettlementsBySignature)
		local.GET("/obligations/:id/settlements", h.SettlementsByObligation)
		if h.Gatherer != nil {
			local.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
		}
	}
}

func errorBody(msg string) models.ErrorEnvelope {
	return models.ErrorEnvelope{Error: models.ActionError{Message: msg}}
}

// writeError 只把调用方可见的错误原样返回，其余统一为内部错误
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrObligationNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case services.IsPayerVisible(err):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	default:
		h.Log.Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error, please retry later"))
	}
}
