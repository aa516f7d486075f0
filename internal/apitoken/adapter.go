package apitoken

import (
	authmw "cis/pkg/platform/middleware/auth"
)

// Adapter exposes Service to the auth middleware.
type Adapter struct {
	service *Service
}

func NewAdapter(service *Service) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{
		ClientID: claims.ClientID,
		Scopes:   claims.Scopes(),
		JTI:      claims.ID,
	}, nil
}
