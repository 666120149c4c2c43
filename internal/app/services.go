package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/checkout"
	"github.com/vladislavdragonenkov/orderengine/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/orderengine/internal/service/ordernumber"
	"github.com/vladislavdragonenkov/orderengine/internal/service/orderquery"
)

// services содержит доменные сервисы, собранные поверх выбранного хранилища.
type services struct {
	checkout    *checkout.Service
	fulfillment *fulfillment.Service
	queries     *orderquery.Service
}

// buildServices связывает оформление, выполнение и чтение заказов с хранилищем.
func buildServices(cfg Config, deps *runtimeDependencies, engineMetrics *metrics.EngineMetrics, logger *log.Entry) services {
	return services{
		checkout: checkout.NewService(deps.txm,
			checkout.WithLogger(logger.WithField("layer", "checkout")),
			checkout.WithMetrics(engineMetrics),
			checkout.WithTaxRate(cfg.TaxRate),
			checkout.WithOrderNumbers(ordernumber.New(ordernumber.WithPrefix(cfg.OrderNumberPrefix))),
		),
		fulfillment: fulfillment.NewService(deps.txm, deps.orders,
			fulfillment.WithLogger(logger.WithField("layer", "fulfillment")),
			fulfillment.WithMetrics(engineMetrics),
		),
		queries: orderquery.NewService(deps.orders,
			orderquery.WithLogger(logger.WithField("layer", "order-query")),
			orderquery.WithTimeline(deps.timelineRepo),
		),
	}
}
