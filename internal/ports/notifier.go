package ports

import (
	"context"

	"github.com/alejandrodnm/lighterexec/internal/domain"
)

// Notifier presenta el resumen de una run al usuario.
type Notifier interface {
	// Notify muestra el informe de ejecución.
	// En la implementación de consola, imprime tablas formateadas.
	Notify(ctx context.Context, report domain.ExecutionReport) error
}
