package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/shopspring/decimal"
)

// Token is a 1Click supported asset
type Token struct {
	AssetID    string
	Symbol     string
	Blockchain string
	Decimals   int32
}

// QuoteRequest asks for a dry EXACT_INPUT quote
type QuoteRequest struct {
	OriginAsset      string
	DestinationAsset string
	Amount           string // Smallest unit of the origin asset
	Recipient        string
	RefundTo         string
}

// Quote is the priced outcome of a quote request
type Quote struct {
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
}

// Client wraps the 1Click SDK
type Client struct {
	api   *oneclick.APIClient
	token string
}

// NewClient creates a new 1Click API client. An empty baseURL keeps the SDK default.
func NewClient(jwtToken, baseURL string) *Client {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: baseURL}}
	}

	return &Client{
		api:   oneclick.NewAPIClient(config),
		token: jwtToken,
	}
}

func (c *Client) authed(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// Tokens retrieves all supported tokens
func (c *Client) Tokens(ctx context.Context) ([]Token, error) {
	resp, httpResp, err := c.api.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	tokens := make([]Token, 0, len(resp))
	for _, t := range resp {
		tokens = append(tokens, Token{
			AssetID:    t.GetAssetId(),
			Symbol:     t.GetSymbol(),
			Blockchain: t.GetBlockchain(),
			Decimals:   int32(t.GetDecimals()),
		})
	}
	return tokens, nil
}

// DryQuote requests a quote without creating a deposit address
func (c *Client) DryQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	refundTo := req.RefundTo
	if refundTo == "" {
		refundTo = req.Recipient
	}

	quoteReq := oneclick.NewQuoteRequest(
		true,                 // dry
		"EXACT_INPUT",        // swapType
		100,                  // slippageTolerance (1%)
		req.OriginAsset,      // originAsset
		"ORIGIN_CHAIN",       // depositType
		req.DestinationAsset, // destinationAsset
		req.Amount,           // amount in smallest unit
		refundTo,             // refundTo
		"ORIGIN_CHAIN",       // refundType
		req.Recipient,        // recipient
		"DESTINATION_CHAIN",  // recipientType
		time.Now().Add(time.Hour),
	)

	resp, httpResp, err := c.api.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, apiError(httpResp, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty quote response")
	}

	details := resp.GetQuote()
	amountIn, err := decimal.NewFromString(details.GetAmountInFormatted())
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount in: %w", err)
	}
	amountOut, err := decimal.NewFromString(details.GetAmountOutFormatted())
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount out: %w", err)
	}

	return &Quote{AmountIn: amountIn, AmountOut: amountOut}, nil
}

// apiError extracts the message of a failed API response
func apiError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("failed to get quote from API: %w", err)
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(body) == 0 {
		return fmt.Errorf("failed to get quote from API (status: %d): %w", httpResp.StatusCode, err)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
	}
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(body))
}
