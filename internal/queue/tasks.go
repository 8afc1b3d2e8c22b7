package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelgate/internal/domain"
)

const TypeRenderWarm = "render:warm"

type RenderWarmPayload struct {
	RenderID    string              `json:"render_id"`
	UserID      string              `json:"user_id,omitempty"`
	Request     domain.ChainRequest `json:"request"`
	CallbackURL string              `json:"callback_url,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
}

func NewRenderWarmTask(payload RenderWarmPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderWarm, body), nil
}

func ParseRenderWarmPayload(task *asynq.Task) (RenderWarmPayload, error) {
	var payload RenderWarmPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderWarmPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	if payload.RenderID == "" {
		return RenderWarmPayload{}, fmt.Errorf("render payload has no render_id")
	}
	return payload, nil
}
