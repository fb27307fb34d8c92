package service

import (
	"context"

	"Stencil/internal/biz"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// OperationWeatherCurrent is the public weather lookup operation.
const OperationWeatherCurrent = "/stencil.v1.Weather/Current"

// WeatherService exposes the demo vendor integration.
type WeatherService struct {
	uc     *biz.WeatherUsecase
	logger *log.Helper
}

// NewWeatherService creates the weather service.
func NewWeatherService(uc *biz.WeatherUsecase, logger log.Logger) *WeatherService {
	return &WeatherService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the weather endpoint on the router.
func (s *WeatherService) RegisterRoutes(r *khttp.Router) {
	r.GET("/weather", s.Current)
}

// Current handles GET /weather?city=&country_code=&units=.
func (s *WeatherService) Current(ctx khttp.Context) error {
	city := ctx.Query().Get("city")
	if city == "" {
		return kratoserrors.BadRequest("MISSING_CITY", "city query parameter is required")
	}
	countryCode := ctx.Query().Get("country_code")
	units := ctx.Query().Get("units")

	khttp.SetOperation(ctx, OperationWeatherCurrent)
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		report, err := s.uc.CurrentWeather(c, city, countryCode, units)
		if err != nil {
			return nil, err
		}
		return Success(c, "", report), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
