package errors

import (
	"testing"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "requests", false},
		{"valid with dash", "my-package", false},
		{"valid with underscore", "my_package", false},
		{"valid with dot", "zope.interface", false},
		{"single char", "a", false},

		{"empty", "", true},
		{"too long", string(make([]byte, 300)), true},
		{"leading dash", "-pkg", true},
		{"trailing dot", "pkg.", true},
		{"slash", "foo/bar", true},
		{"control char", "foo\x01bar", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePackageName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"requests-2.31.0-py3-none-any.whl", false},
		{"six-1.16.0.tar.gz", false},
		{"", true},
		{"../etc/passwd", true},
		{"dir\\file.whl", true},
		{".hidden.whl", true},
	}
	for _, tt := range tests {
		err := ValidateFilename(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateFilename(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err != nil && !Is(err, ErrCodeInvalidPath) {
			t.Errorf("ValidateFilename(%q) returned wrong error code: %v", tt.input, err)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"https://pypi.org/simple", false},
		{"http://localhost:8080/simple", false},
		{"file:///srv/wheels", false},
		{"", true},
		{"ftp://example.com", true},
		{"pypi.org/simple", true},
	}
	for _, tt := range tests {
		if err := ValidateURL(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestErrorCodesAreUnique(t *testing.T) {
	codes := []Code{
		ErrCodeParse,
		ErrCodeInvalidInput,
		ErrCodeInvalidPath,
		ErrCodeSourceUnavailable,
		ErrCodeResolutionConflict,
		ErrCodeStaleLock,
		ErrCodeIncompatibleEnvironment,
		ErrCodeNotFound,
		ErrCodeNetwork,
		ErrCodeCancelled,
		ErrCodeInternal,
		ErrCodeUnsupported,
	}

	seen := make(map[Code]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("Duplicate error code: %s", code)
		}
		seen[code] = true
	}
}
