package authsvc

import (
	"context"
	"encoding/json"

	"github.com/lavente-care/aim-core/internal/apierr"
)

func marshalPending(p mfaPendingLogin) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", apierr.Internal(err)
	}
	return string(raw), nil
}

func unmarshalPending(raw string) (mfaPendingLogin, error) {
	var p mfaPendingLogin
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return mfaPendingLogin{}, apierr.Internal(err)
	}
	return p, nil
}

// CompleteMFALogin resumes the pipeline at step 8. It refuses to issue
// tokens unless mfaChallengeID names a challenge the MFA Service has
// actually marked verified (ConsumeCompletedChallenge enforces
// challenge.CompletedAt != nil) — the pending login stash alone is not
// proof the caller ever submitted a correct TOTP or backup code.
func (s *Service) CompleteMFALogin(ctx context.Context, mfaChallengeID string) (LoginResult, error) {
	raw, ok, err := s.cache.Get(ctx, mfaChallengePrefix+mfaChallengeID)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, apierr.BadRequestf("mfa challenge expired or invalid")
	}
	pending, err := unmarshalPending(raw)
	if err != nil {
		return LoginResult{}, err
	}

	verifiedUserID, err := s.mfaSvc.ConsumeCompletedChallenge(ctx, mfaChallengeID)
	if err != nil {
		return LoginResult{}, err
	}
	if verifiedUserID != pending.UserID {
		return LoginResult{}, apierr.Unauthorizedf(invalidCredentialsMessage)
	}

	user, err := s.store.GetUserByID(ctx, pending.UserID)
	if err != nil {
		return LoginResult{}, apierr.Unauthorizedf(invalidCredentialsMessage)
	}

	_ = s.cache.Delete(ctx, mfaChallengePrefix+mfaChallengeID)

	return s.finishLogin(ctx, user, LoginParams{
		Email:             pending.Email,
		DeviceFingerprint: pending.DeviceFingerprint,
		IPAddress:         pending.IPAddress,
		UserAgent:         pending.UserAgent,
		RememberMe:        pending.RememberMe,
	})
}
