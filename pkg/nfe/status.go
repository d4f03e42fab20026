package nfe

// =============================================================================
// Códigos de status (cStat) relevantes por servicio
// =============================================================================

const (
	StatusAuthorized          = "100" // Autorizado o uso da NF-e
	StatusCancelled           = "101" // Cancelamento de NF-e homologado
	StatusInvalidated         = "102" // Inutilização de número homologado
	StatusBatchProcessed      = "104" // Lote processado (cStat real en protNFe)
	StatusNotFound            = "106" // NF-e não consta na base de dados da SEFAZ
	StatusServiceRunning      = "107" // Serviço em operação
	StatusServiceStopped      = "108" // Serviço paralisado momentaneamente
	StatusServiceStoppedLong  = "109" // Serviço paralisado sem previsão
	StatusDenied              = "110" // Uso denegado
	StatusEventRegistered     = "135" // Evento registrado e vinculado a NF-e
	StatusEventNotLinked      = "136" // Evento registrado, mas não vinculado a NF-e
	StatusDistributionNoDocs  = "137" // Nenhum documento localizado
	StatusDistributionDocs    = "138" // Documento localizado
	StatusCancelledOutOfTerm  = "155" // Cancelamento homologado fora de prazo
	StatusDuplicate           = "204" // Duplicidade de NF-e
	StatusDeniedIssuer        = "301" // Uso denegado: irregularidade fiscal do emitente
	StatusDeniedRecipient     = "302" // Uso denegado: irregularidade fiscal do destinatário
	StatusDeniedRecipientNot  = "303" // Uso denegado: destinatário não habilitado na UF
	StatusDuplicateDifferent  = "539" // Duplicidade com diferença na chave de acesso
	StatusKeyNotFoundAN       = "562" // Chave de acesso inexistente no ambiente nacional
	StatusConsumoIndevido     = "656" // Consumo indevido (excesso de requisições)
)

// State es la clasificación de un cStat dentro de una operación.
type State string

const (
	StateSuccess     State = "sucesso"
	StateRejected    State = "rejeicao"
	StateDenied      State = "denegada"
	StateCancelled   State = "cancelada"
	StateNotFound    State = "inexistente"
	StateUndefined   State = "indefinido"
	StateUnavailable State = "indisponivel"
)

var statesByOperation = map[Operation]map[State][]string{
	OpAuthorization: {
		StateSuccess:   {StatusAuthorized},
		StateRejected:  {"102", "110", "204", "539", "656"},
		StateDenied:    {StatusDeniedIssuer, StatusDeniedRecipient, StatusDeniedRecipientNot},
		StateCancelled: {StatusEventRegistered, StatusEventNotLinked, StatusCancelledOutOfTerm},
	},
	OpConsultation: {
		StateSuccess:   {StatusAuthorized},
		StateCancelled: {StatusCancelled, StatusEventRegistered, StatusEventNotLinked, StatusCancelledOutOfTerm},
		StateDenied:    {StatusDeniedIssuer, StatusDeniedRecipient, StatusDeniedRecipientNot},
		StateNotFound:  {StatusNotFound, StatusKeyNotFoundAN},
	},
	OpCancellation: {
		StateSuccess: {StatusEventRegistered, StatusEventNotLinked, StatusCancelledOutOfTerm},
	},
	OpInvalidation: {
		StateSuccess: {StatusInvalidated},
	},
	OpDistribution: {
		StateSuccess:  {StatusDistributionDocs},
		StateNotFound: {StatusDistributionNoDocs},
	},
	OpStatusService: {
		StateSuccess:     {StatusServiceRunning},
		StateUnavailable: {StatusServiceStopped, StatusServiceStoppedLong},
	},
}

// StateOf clasifica el cStat devuelto por la SEFAZ para la operación dada.
func StateOf(op Operation, cStat string) State {
	for state, codes := range statesByOperation[op] {
		for _, c := range codes {
			if c == cStat {
				return state
			}
		}
	}
	return StateUndefined
}

// IsSuccess indica si el cStat significa éxito para la operación: 100 en autorización y
// consulta, 102 en inutilización, 135/136/155 en cancelación, 107 en status de servicio.
// Cualquier otro código es un rechazo de negocio, nunca un fallo de transporte.
func IsSuccess(op Operation, cStat string) bool {
	return StateOf(op, cStat) == StateSuccess
}
