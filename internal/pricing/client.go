package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/bidautoweb/post-generator-service/internal/catalog"
	"github.com/bidautoweb/post-generator-service/internal/config"
	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/logger"
	"github.com/bidautoweb/post-generator-service/pkg/circuitbreaker"
	"github.com/bidautoweb/post-generator-service/pkg/metrics"
)

// RemoteError is an explicit error response from the calculator service,
// e.g. no pricing data for the lot's auction/location pair.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("pricing: %s", e.Message)
}

// Quote is the computed transport pricing for one lot.
type Quote struct {
	DeliveryPrice int64
	ShippingPrice int64
}

// Client wraps NATS request/reply to the transport-cost calculator, behind
// a circuit breaker so a dead calculator fails fast during a fan-out.
type Client struct {
	nc      *nats.Conn
	subject string
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func Connect(cfg config.CatalogConfig, log logger.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Client{
		nc:      nc,
		subject: cfg.PricingSubject,
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("pricing")),
		logger:  log,
	}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

type quoteRequest struct {
	Price       int64  `json:"price"`
	Auction     string `json:"auction"`
	VehicleType string `json:"vehicle_type"`
	Location    string `json:"location"`
}

type quoteResponse struct {
	Data struct {
		Calculator struct {
			TransportationPrice []struct {
				Price int64 `json:"price"`
			} `json:"transportation_price"`
			OceanShip []struct {
				Price int64 `json:"price"`
			} `json:"ocean_ship"`
		} `json:"calculator"`
	} `json:"data"`
	Error string `json:"error"`
}

// QuoteForLot returns transport pricing for the lot, or a RemoteError when
// the calculator has no data for it.
func (c *Client) QuoteForLot(ctx context.Context, lot catalog.Lot) (*Quote, error) {
	vehicleType := lot.VehicleType
	if vehicleType == "" || vehicleType == "Automobile" {
		vehicleType = "CAR"
	}

	req := quoteRequest{
		Price:       1,
		Auction:     strings.ToUpper(lot.BaseSite),
		VehicleType: vehicleType,
		Location:    lot.Location,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quote request: %w", err)
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, constants.DefaultPricingTimeout)
		defer cancel()

		msg, err := c.nc.RequestWithContext(reqCtx, c.subject, body)
		if err != nil {
			return nil, fmt.Errorf("pricing request failed: %w", err)
		}
		return msg.Data, nil
	})
	if err != nil {
		metrics.PricingLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		metrics.PricingLookupsTotal.WithLabelValues("decode_error").Inc()
		return nil, fmt.Errorf("failed to decode quote reply: %w", err)
	}
	if resp.Error != "" {
		metrics.PricingLookupsTotal.WithLabelValues("no_data").Inc()
		return nil, &RemoteError{Message: resp.Error}
	}

	calc := resp.Data.Calculator
	if len(calc.TransportationPrice) == 0 || len(calc.OceanShip) == 0 {
		metrics.PricingLookupsTotal.WithLabelValues("no_data").Inc()
		return nil, &RemoteError{Message: fmt.Sprintf("no pricing data for lot %d", lot.LotID)}
	}

	metrics.PricingLookupsTotal.WithLabelValues("ok").Inc()
	return &Quote{
		DeliveryPrice: calc.TransportationPrice[0].Price,
		ShippingPrice: calc.OceanShip[0].Price,
	}, nil
}
