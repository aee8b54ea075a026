// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/auth/postgres"
)

var _ = Describe("UserRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()
		repo = postgres.NewUserRepository(testPool)
	})

	It("round-trips a user", func() {
		user, err := auth.NewUser("Ada@Example.com", "Ada", "$argon2id$hash", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, user)).To(Succeed())

		got, err := repo.GetByEmail(ctx, "ADA@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(user.ID))
		Expect(got.Email).To(Equal("ada@example.com"))
		Expect(got.EmailVerified).To(BeTrue())
		Expect(got.PointBalance).To(BeZero())
		Expect(got.LastLoginAt).To(BeNil())
		Expect(got.CreatedAt).To(BeTemporally("~", user.CreatedAt, time.Millisecond))

		byID, err := repo.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.Email).To(Equal("ada@example.com"))
	})

	It("rejects a second account for the same email", func() {
		first, err := auth.NewUser("ada@example.com", "Ada", "hash", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, first)).To(Succeed())

		second, err := auth.NewUser("ADA@example.com", "Impostor", "hash", time.Now())
		Expect(err).NotTo(HaveOccurred())
		err = repo.Create(ctx, second)
		Expect(err).To(HaveOccurred())
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeConflict))
	})

	It("records the last login", func() {
		user, err := auth.NewUser("ada@example.com", "Ada", "hash", time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, user)).To(Succeed())

		at := time.Now().Add(time.Minute)
		Expect(repo.UpdateLastLogin(ctx, user.ID, at)).To(Succeed())

		got, err := repo.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastLoginAt).NotTo(BeNil())
		Expect(*got.LastLoginAt).To(BeTemporally("~", at, time.Millisecond))
	})

	It("reports missing users as not found", func() {
		_, err := repo.GetByEmail(ctx, "nobody@example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("Ledger on PostgreSQL", func() {
	var (
		ctx    context.Context
		now    time.Time
		ledger *auth.Ledger
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()
		now = time.Now()
		var err error
		ledger, err = auth.NewLedger(postgres.NewOTPRepository(testPool),
			auth.WithLedgerClock(func() time.Time { return now }))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reuses a live code and accepts it once", func() {
		entry, reused, err := ledger.Issue(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(reused).To(BeFalse())
		Expect(entry.Code).To(MatchRegexp(`^\d{6}$`))

		again, reused, err := ledger.Issue(ctx, "ADA@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(reused).To(BeTrue())
		Expect(again.Code).To(Equal(entry.Code))

		result, err := ledger.Verify(ctx, "ada@example.com", entry.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(auth.VerifyOK))

		result, err = ledger.Verify(ctx, "ada@example.com", entry.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(auth.VerifyNotFound))
	})

	It("locks out after the attempt ceiling", func() {
		entry, _, err := ledger.Issue(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		wrong := "000000"
		if entry.Code == wrong {
			wrong = "111111"
		}

		for i := 0; i < auth.MaxOTPAttempts; i++ {
			result, err := ledger.Verify(ctx, "ada@example.com", wrong)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(auth.VerifyMismatch))
		}

		result, err := ledger.Verify(ctx, "ada@example.com", entry.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(auth.VerifyLockedOut))

		result, err = ledger.Verify(ctx, "ada@example.com", entry.Code)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(auth.VerifyNotFound))
	})

	It("replaces an expired code and sweeps stale ones", func() {
		old, _, err := ledger.Issue(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		_, _, err = ledger.Issue(ctx, "eve@example.com")
		Expect(err).NotTo(HaveOccurred())

		now = now.Add(auth.OTPTTL + time.Second)

		fresh, reused, err := ledger.Issue(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(reused).To(BeFalse())
		Expect(fresh.ID).NotTo(Equal(old.ID))

		swept, err := ledger.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(swept).To(Equal(int64(1)), "only eve's code had expired")
	})

	It("never lets two concurrent verifiers consume one code", func() {
		entry, _, err := ledger.Issue(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())

		const verifiers = 8
		results := make([]auth.VerifyResult, verifiers)
		var wg sync.WaitGroup
		for i := 0; i < verifiers; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				r, verr := ledger.Verify(ctx, "ada@example.com", entry.Code)
				if verr == nil {
					results[i] = r
				}
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, r := range results {
			if r == auth.VerifyOK {
				ok++
			}
		}
		Expect(ok).To(BeNumerically("<=", 1))
	})
})

var _ = Describe("PendingSignupRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.PendingSignupRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()
		repo = postgres.NewPendingSignupRepository(testPool)
	})

	It("keeps a live candidate and replaces an expired one", func() {
		now := time.Now()
		Expect(repo.Put(ctx, &auth.PendingSignup{
			Email: "ada@example.com", DisplayName: "Ada", PasswordHash: "h1",
			ExpiresAt: now.Add(auth.OTPTTL), CreatedAt: now,
		})).To(BeTrue())
		Expect(repo.Put(ctx, &auth.PendingSignup{
			Email: "ada@example.com", DisplayName: "Mallory", PasswordHash: "h2",
			ExpiresAt: now.Add(auth.OTPTTL), CreatedAt: now.Add(time.Minute),
		})).To(BeFalse())

		got, err := repo.Get(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.DisplayName).To(Equal("Ada"))
		Expect(got.PasswordHash).To(Equal("h1"))

		later := now.Add(auth.OTPTTL)
		Expect(repo.Put(ctx, &auth.PendingSignup{
			Email: "ada@example.com", DisplayName: "Ada L", PasswordHash: "h3",
			ExpiresAt: later.Add(auth.OTPTTL), CreatedAt: later,
		})).To(BeTrue())
		got, err = repo.Get(ctx, "ada@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("h3"))

		Expect(repo.Delete(ctx, "ada@example.com")).To(Succeed())
		_, err = repo.Get(ctx, "ada@example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))
	})

	It("deletes expired candidates", func() {
		now := time.Now()
		Expect(repo.Put(ctx, &auth.PendingSignup{
			Email: "old@example.com", DisplayName: "Old", PasswordHash: "h",
			ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-auth.OTPTTL),
		})).To(BeTrue())
		Expect(repo.Put(ctx, &auth.PendingSignup{
			Email: "new@example.com", DisplayName: "New", PasswordHash: "h",
			ExpiresAt: now.Add(auth.OTPTTL), CreatedAt: now,
		})).To(BeTrue())

		n, err := repo.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})
})
