package carrier

import (
	"context"

	"github.com/BearBump/TrackHooks/internal/models"
)

// Client — единственная способность перевозчика, которая нужна подсистеме
// вебхуков: получить текущую ленту событий по трек-номеру.
type Client interface {
	Track(ctx context.Context, trackingNumber string) (*models.TrackInfo, error)
}
