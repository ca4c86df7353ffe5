// Package handler is the thin Lambda transport shim: it decodes the API
// Gateway event, extracts identity evidence from the request metadata, and
// maps usecase errors to HTTP statuses. No business logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"asesor-agent/internal/domain"
	"asesor-agent/internal/identity"
	"asesor-agent/internal/usecase"
)

const genericFailureMessage = "Ocurrió un error interno al procesar tu consulta. Por favor, inténtalo de nuevo más tarde."

type answerUseCase interface {
	Answer(ctx context.Context, in usecase.AnswerInput) (usecase.AnswerOutput, error)
}

type askRequest struct {
	Question string                    `json:"question"`
	History  []domain.ConversationTurn `json:"history"`
}

type askResponse struct {
	Answer   string `json:"answer"`
	Advisory string `json:"advisory,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type Handler struct {
	uc answerUseCase
}

func NewHandler(uc answerUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: usecase must not be nil")
	}
	return &Handler{uc: uc}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, "X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var req askRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, correlationID), nil
	}

	in := usecase.AnswerInput{
		Question: req.Question,
		History:  req.History,
		Evidence: identity.Evidence{
			BearerToken: bearerToken(headerValue(event.Headers, "Authorization")),
			VisitorID:   headerValue(event.Headers, "X-Visitor-ID"),
			RemoteAddr:  event.RequestContext.Identity.SourceIP,
		},
	}

	out, err := h.uc.Answer(ctx, in)
	if err != nil {
		return respondError(err, correlationID), nil
	}

	return respond(http.StatusOK, askResponse{Answer: out.Answer, Advisory: out.AdvisoryNote}, correlationID), nil
}

// respondError maps usecase errors to statuses. Only auth and quota failures
// keep their identity outward; everything else becomes the generic message
// with the detail logged server-side.
func respondError(err error, correlationID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		slog.Error("unexpected handler error", "correlation_id", correlationID, "err", err)
		return respond(http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: genericFailureMessage,
		}, correlationID)
	}

	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return respond(http.StatusBadRequest, errorResponse{Error: string(ucErr.Code)}, correlationID)
	case usecase.ErrorAuthInvalid:
		return respond(http.StatusUnauthorized, errorResponse{
			Error:   string(ucErr.Code),
			Message: "Token de autenticación inválido o expirado.",
		}, correlationID)
	case usecase.ErrorQuotaExceeded:
		return respond(http.StatusTooManyRequests, errorResponse{
			Error:   string(ucErr.Code),
			Message: fmt.Sprintf("Límite de %d peticiones diarias alcanzado. Vuelve a intentarlo mañana.", ucErr.Limit),
			Limit:   ucErr.Limit,
		}, correlationID)
	default:
		slog.Error("internal pipeline error", "correlation_id", correlationID, "reason", ucErr.Reason, "err", ucErr.Err)
		return respond(http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: genericFailureMessage,
		}, correlationID)
	}
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(payload),
	}
}

// headerValue does a case-insensitive lookup; API Gateway does not normalize
// header casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// bearerToken strips the Bearer scheme prefix. A header without the scheme is
// treated as no credential at all.
func bearerToken(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}
