package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"webagent/internal/logger"
	"webagent/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// HealthHandler reports the engine's readiness and the state of its
// external collaborators: Redis and the LLM endpoint.
type HealthHandler struct {
	log          *logger.Logger
	redisService *redis.Service
	llmBaseURL   string
	httpClient   *http.Client
	startTime    time.Time
	isReady      bool
}

func NewHealthHandler(redisSvc *redis.Service, llmBaseURL string) *HealthHandler {
	return &HealthHandler{
		log:          logger.New("HealthCheck"),
		redisService: redisSvc,
		llmBaseURL:   llmBaseURL,
		httpClient:   &http.Client{Timeout: 3 * time.Second},
		startTime:    time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic.
func (h *HealthHandler) SetReady() {
	h.isReady = true
	h.log.LogInfof("application ready after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allOk := true

	checkComponent := func(name string, checkFunc func(context.Context) error) {
		defer wg.Done()
		componentState := "ok"
		var errStr string
		if err := checkFunc(ctx); err != nil {
			componentState = "error"
			errStr = err.Error()
			mu.Lock()
			allOk = false
			mu.Unlock()
			h.log.LogErrorf("health check failed for %s: %v", name, err)
		}
		mu.Lock()
		statuses[name] = ComponentStatus{Status: componentState, Error: errStr}
		mu.Unlock()
	}

	wg.Add(2)
	go checkComponent("redis", h.redisService.HealthCheck)
	go checkComponent("llm", h.checkLLM)
	wg.Wait()

	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}

	if allOk && h.isReady {
		response.OverallStatus = "ok"
		return c.Status(http.StatusOK).JSON(response)
	}
	if !h.isReady {
		response.OverallStatus = "starting"
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}
	response.OverallStatus = "error"
	h.log.LogWarnf("health check failed. Statuses: %+v", statuses)
	return c.Status(http.StatusServiceUnavailable).JSON(response)
}

// checkLLM probes the chat endpoint's model listing.
func (h *HealthHandler) checkLLM(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.llmBaseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm endpoint status %d", resp.StatusCode)
	}
	return nil
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
