package biz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"Stencil/internal/conf"
	"Stencil/internal/data"
	pkgerrors "Stencil/pkg/errors"
	"Stencil/pkg/httpclient"
	pkglog "Stencil/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// WeatherReport is the normalized weather response for one city.
type WeatherReport struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    float64 `json:"humidity"`
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"`
	Units       string  `json:"units"`
	FromCache   bool    `json:"from_cache,omitempty"`
}

// WeatherUsecase fetches current weather through the circuit-breaking
// client. It is the reference consumer of the outbound call stack: breaker,
// fallback target, call logging and short response caching all apply.
type WeatherUsecase struct {
	client *httpclient.Client
	cache  data.CacheClient
	config *data.ConfigStore
	logger *pkglog.LogHelper
}

// NewWeatherUsecase creates the weather usecase.
func NewWeatherUsecase(
	c *conf.Vendors,
	breakers *httpclient.BreakerRegistry,
	recorder httpclient.CallRecorder,
	cache data.CacheClient,
	config *data.ConfigStore,
	logger log.Logger,
) *WeatherUsecase {
	cfg := httpclient.Config{
		Vendor:  "openweathermap",
		BaseURL: "https://api.openweathermap.org/data/2.5",
	}
	if c != nil && c.Weather != nil {
		w := c.Weather
		if w.BaseUrl != "" {
			cfg.BaseURL = w.BaseUrl
		}
		if w.ApiKey != "" {
			cfg.DefaultParams = map[string]string{"appid": w.ApiKey}
		}
		if w.Timeout != nil {
			cfg.Timeout = w.Timeout.AsDuration()
		}
		cfg.BreakerThreshold = int(w.BreakerThreshold)
		if w.BreakerCooldown != nil {
			cfg.BreakerCooldown = w.BreakerCooldown.AsDuration()
		}
		if w.FallbackUrl != "" {
			cfg.Fallback = &httpclient.Config{
				Vendor:           "openweathermap-fallback",
				BaseURL:          w.FallbackUrl,
				DefaultParams:    cfg.DefaultParams,
				BreakerThreshold: int(w.BreakerThreshold),
			}
			if w.BreakerCooldown != nil {
				cfg.Fallback.BreakerCooldown = w.BreakerCooldown.AsDuration()
			}
		}
	}

	return &WeatherUsecase{
		client: httpclient.New(cfg, breakers, recorder, logger),
		cache:  cache,
		config: config,
		logger: pkglog.NewLogHelper(logger),
	}
}

// CurrentWeather returns current conditions for a city. Responses are cached
// briefly; the weather_cache feature flag can disable the cache at runtime.
func (uc *WeatherUsecase) CurrentWeather(ctx context.Context, city, countryCode, units string) (*WeatherReport, error) {
	if city == "" {
		return nil, kratoserrors.BadRequest("MISSING_CITY", "city is required")
	}
	if units == "" {
		units = "metric"
	}

	location := city
	if countryCode != "" {
		location = city + "," + countryCode
	}

	cacheKey := data.BuildCacheKey(data.CacheKeyWeather, strings.ToLower(location), units)
	useCache := uc.config == nil || uc.config.GetBool("features.weather_cache", true)

	if useCache && uc.cache != nil {
		var cached WeatherReport
		if err := uc.cache.Get(ctx, cacheKey, &cached); err == nil {
			cached.FromCache = true
			return &cached, nil
		}
	}

	payload, _, status, err := uc.client.Get(ctx, "/weather", &httpclient.RequestOptions{
		Params: map[string]string{
			"q":     location,
			"units": units,
		},
	})
	if err != nil {
		return nil, weatherError(err, status)
	}

	report, err := parseWeatherPayload(payload, units)
	if err != nil {
		uc.logger.Vendor("weather payload missing expected fields", "city", city, "error", err)
		return nil, kratoserrors.New(http.StatusBadGateway, "MALFORMED_UPSTREAM", "weather provider returned an unexpected payload")
	}

	if useCache && uc.cache != nil {
		if err := uc.cache.Set(ctx, cacheKey, report, data.TTLWeather); err != nil {
			uc.logger.Redis("failed to cache weather report", "key", cacheKey, "error", err)
		}
	}

	return report, nil
}

// weatherError maps client failures to transport errors.
func weatherError(err error, status int) error {
	var apiErr *pkgerrors.ExternalAPIError
	if errors.As(err, &apiErr) {
		if apiErr.CircuitOpen && !apiErr.FallbackAttempted {
			return kratoserrors.ServiceUnavailable("CIRCUIT_OPEN", "weather provider temporarily unavailable")
		}
		if apiErr.StatusCode == http.StatusNotFound {
			return kratoserrors.NotFound("CITY_NOT_FOUND", "no weather data for that city")
		}
		if apiErr.StatusCode == http.StatusUnauthorized {
			return kratoserrors.New(http.StatusBadGateway, "VENDOR_AUTH", "weather provider rejected the api key")
		}
	}
	if status >= 400 && status < 500 {
		return kratoserrors.BadRequest("WEATHER_REQUEST", "weather provider rejected the request")
	}
	return kratoserrors.New(http.StatusBadGateway, "WEATHER_UNAVAILABLE", "failed to fetch weather data")
}

// parseWeatherPayload extracts the normalized report from the provider's
// response shape.
func parseWeatherPayload(payload map[string]any, units string) (*WeatherReport, error) {
	main, ok := payload["main"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing main block")
	}

	report := &WeatherReport{
		City:  stringField(payload, "name"),
		Units: units,
	}
	report.Temperature, _ = main["temp"].(float64)
	report.FeelsLike, _ = main["feels_like"].(float64)
	report.Humidity, _ = main["humidity"].(float64)

	if weather, ok := payload["weather"].([]any); ok && len(weather) > 0 {
		if first, ok := weather[0].(map[string]any); ok {
			report.Description = stringField(first, "description")
		}
	}
	if wind, ok := payload["wind"].(map[string]any); ok {
		report.WindSpeed, _ = wind["speed"].(float64)
	}

	return report, nil
}
