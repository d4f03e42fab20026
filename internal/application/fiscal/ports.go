// Package fiscal orquesta el intercambio de documentos fiscales con la SEFAZ:
// emisión, cancelamento, inutilização, consulta, distribución DF-e y status.
package fiscal

import (
	"context"
	"crypto/tls"

	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/schema"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/storage"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Transport es el cliente SOAP de un binding UF/ambiente.
type Transport interface {
	SubmitBatch(ctx context.Context, enviNFe []byte) ([]byte, error)
	Query(ctx context.Context, accessKey string) ([]byte, error)
	CancelEvent(ctx context.Context, envEvento []byte) ([]byte, error)
	InvalidateRange(ctx context.Context, inutNFe []byte) ([]byte, error)
	PullDistribution(ctx context.Context, req sefaz.DistributionRequest) ([]byte, error)
	ServiceStatus(ctx context.Context) ([]byte, error)
}

// Clients entrega el Transport de cada binding.
type Clients interface {
	Client(ctx context.Context, b entity.EndpointBinding) (Transport, error)
}

type registryClients struct{ r *sefaz.Registry }

// FromRegistry adapta el registro de clientes SOAP.
func FromRegistry(r *sefaz.Registry) Clients { return registryClients{r: r} }

func (c registryClients) Client(ctx context.Context, b entity.EndpointBinding) (Transport, error) {
	cl, err := c.r.Client(ctx, b)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

// Signer firma el elemento con Id del documento (infNFe, infEvento, infInut).
type Signer interface {
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}

// SchemaValidator valida documentos salientes y retornos de la SEFAZ.
type SchemaValidator interface {
	Validate(xmlBytes []byte, op nfe.Operation, env nfe.Environment) (schema.Result, error)
	ValidateResponse(xmlBytes []byte, op nfe.Operation, env nfe.Environment) (schema.Result, error)
}

// Cache es la caché local de XML por clave de archivo.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
	PutIfAbsent(key string, data []byte) (bool, error)
}

// Archive guarda el XML enviado en pendentes y lo mueve a enviadas o falhas.
type Archive interface {
	SavePending(name string, data []byte) (string, error)
	Finish(name string, to storage.Folder, data []byte) (string, error)
	FindAccepted(accessKey string) ([]byte, bool, error)
}
