package auth

import (
	"context"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
)

// Logins builds the interactive authenticator of every backend that needs
// one. googleKey is offered as the default key file path.
func Logins(p *Prompter, googleKey string) map[cloud.Kind]cloud.Authenticator {
	return map[cloud.Kind]cloud.Authenticator{
		cloud.Folderfort: folderfortLogin(p),
		cloud.Google:     googleLogin(p, googleKey),
		cloud.Dropbox:    dropboxLogin(p),
		cloud.S3:         s3Login(p),
	}
}

// Register installs Logins on f.
func Register(f *cloud.Factory, p *Prompter, googleKey string) {
	for kind, login := range Logins(p, googleKey) {
		f.RegisterAuthenticator(kind, login)
	}
}

func folderfortLogin(p *Prompter) cloud.Authenticator {
	return func(ctx context.Context, svc cloud.Service) (string, error) {
		email, err := p.Line("Folderfort email", "")
		if err != nil {
			return "", err
		}
		password, err := p.Secret("Folderfort password")
		if err != nil {
			return "", err
		}
		return svc.Authenticate(ctx, cloud.Credentials{Email: email, Password: password})
	}
}

func googleLogin(p *Prompter, defaultKey string) cloud.Authenticator {
	return func(ctx context.Context, svc cloud.Service) (string, error) {
		path, err := p.Line("Service account key file", defaultKey)
		if err != nil {
			return "", err
		}
		return svc.Authenticate(ctx, cloud.Credentials{File: path})
	}
}

func dropboxLogin(p *Prompter) cloud.Authenticator {
	return func(ctx context.Context, svc cloud.Service) (string, error) {
		token, err := p.Secret("Dropbox access token")
		if err != nil {
			return "", err
		}
		return svc.Authenticate(ctx, cloud.Credentials{Token: token})
	}
}

func s3Login(p *Prompter) cloud.Authenticator {
	return func(ctx context.Context, svc cloud.Service) (string, error) {
		id, err := p.Line("Access key ID", "")
		if err != nil {
			return "", err
		}
		secret, err := p.Secret("Secret access key")
		if err != nil {
			return "", err
		}
		return svc.Authenticate(ctx, cloud.Credentials{Extra: map[string]string{
			"access_key_id":     id,
			"secret_access_key": secret,
		}})
	}
}
