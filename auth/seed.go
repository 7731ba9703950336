package auth

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// AdminSeed describes one administrator provisioned at startup.
type AdminSeed struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

func (a AdminSeed) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Email, validation.Required, is.Email),
		validation.Field(&a.Password, validation.Required, validation.Length(MinPasswordLength, 128)),
	)
}

type seedFile struct {
	Admins []AdminSeed `yaml:"admins"`
}

// ParseAdminSeeds decodes a seed document of the form
//
//	admins:
//	  - email: ops@example.com
//	    password: change-me-now
//	    name: Ops
func ParseAdminSeeds(data []byte) ([]AdminSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("auth: parse admin seeds: %w", err)
	}
	for i, seed := range f.Admins {
		if err := seed.Validate(); err != nil {
			return nil, fmt.Errorf("auth: admin seed %d: %w", i, err)
		}
	}
	return f.Admins, nil
}

// LoadAdminSeeds reads seeds from path. An empty path yields no seeds.
func LoadAdminSeeds(path string) ([]AdminSeed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read admin seeds: %w", err)
	}
	return ParseAdminSeeds(data)
}
