// Package rbacsdk is a client for the RBAC management API and its OAuth2
// identity provider.
//
// Client covers the three collections (users, roles, permissions) and the
// role-permission toggle. IdentityClient performs the password, refresh and
// mfa_otp grants. Both return *NetworkError when a request never completes
// and *APIError for non-2xx answers; errors.Is(err, ErrNotFound) matches a
// 404.
//
// Example:
//
//	idp := rbacsdk.NewIdentityClient("http://localhost:5000", "rbacadmin")
//	tok, err := idp.Login(ctx, rbacsdk.Credentials{Username: "admin", Password: pw})
//	if err != nil {
//		return err
//	}
//
//	c := rbacsdk.NewClient("http://localhost:5000",
//		rbacsdk.WithTokenSource(rbacsdk.TokenSourceFunc(func(context.Context) (string, error) {
//			return tok.AccessToken, nil
//		})),
//	)
//	users, err := c.Users().List(ctx)
package rbacsdk
