// Package mocks provides mock implementations of the ports consumed by the session service.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for port interfaces.
// Stateful doubles that are easier to drive by hand (FakeAuthAPI) live alongside them.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	api := mocks.NewMockAuthAPI(ctrl)
//	api.EXPECT().Login(gomock.Any(), gomock.Any()).Return(result, nil)
package mocks

// Generate mocks for AuthAPI and ClientStorage from internal/ports.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/dicom-portal/internal/ports AuthAPI,ClientStorage
