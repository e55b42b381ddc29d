package auth

// Claims representa la información extraída del token.
// UserID es la identidad de la entidad (hospital, médico, paciente, dispositivo).
type Claims struct {
	UserID   string
	Email    string
	TenantID string
}
