// Package verifier checks personal message signatures of player accounts.
package verifier

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/baishi/internal/pkg/common"
	"github.com/vreid/baishi/internal/pkg/session/evm"
)

type VerifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

type VerifierService struct{}

func NewVerifierService(i do.Injector) (*VerifierService, error) {
	result := &VerifierService{}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		apiGroup.POST("/verify", result.PostVerify)
	})

	return result, nil
}

func (s *VerifierService) PostVerify(c echo.Context) error {
	var request VerifyRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}

	if request.Address == "" || request.Signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address and signature are required")
	}

	signature, err := hexutil.Decode(request.Signature)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "signature is not hex")
	}

	valid, err := evm.VerifySignature([]byte(request.Message), signature, request.Address)
	if errors.Is(err, evm.ErrInvalidSignature) {
		valid = false
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to verify signature")
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, VerifyResponse{Valid: valid})
}
