package dto

// SyncRequest pide una ejecución de la distribución DF-e.
// Campos vacíos toman el CNPJ del token y el ambiente configurado.
type SyncRequest struct {
	TaxID       string `json:"tax_id"`
	Environment string `json:"environment"` // "1", "2", "producao", "homologacao"
}

// EvictRequest límites de la limpieza de caché; nil usa los configurados.
type EvictRequest struct {
	MaxAgeDays *int `json:"max_age_days"`
	MaxSizeMB  *int `json:"max_size_mb"`
}

// EvictResponse resultado de la limpieza.
type EvictResponse struct {
	Scanned        int   `json:"scanned"`
	RemovedByAge   int   `json:"removed_by_age"`
	RemovedBySize  int   `json:"removed_by_size"`
	FreedBytes     int64 `json:"freed_bytes"`
	Remaining      int   `json:"remaining"`
	RemainingBytes int64 `json:"remaining_bytes"`
}

// SyncStateResponse fase actual del sincronizador.
type SyncStateResponse struct {
	TaxID       string `json:"tax_id"`
	Environment string `json:"environment"`
	State       string `json:"state"`
}
