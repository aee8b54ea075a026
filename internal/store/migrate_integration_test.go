// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/thinkgreen/thinkgreen/internal/store"
)

var _ = Describe("Migrator", func() {
	var migrator *store.Migrator

	BeforeEach(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Down()).To(Succeed())
	})

	AfterEach(func() {
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())
	})

	It("runs a full up, step and down cycle", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed())
		version, dirty, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))

		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	It("creates the account tables", func() {
		Expect(migrator.Up()).To(Succeed())

		ctx := context.Background()
		for _, table := range []string{"users", "otp_entries", "pending_signups"} {
			var exists bool
			err := testPool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
				table).Scan(&exists)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue(), "table %s should exist", table)
		}
	})

	It("reports status", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Pending).To(Equal([]uint{1, 2, 3}))

		Expect(migrator.Force(2)).To(Succeed())
		status, err = migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(Equal(uint(2)))
		Expect(status.Name).To(Equal("000002_otp_entries"))

		Expect(migrator.Force(0)).To(Succeed())
	})
})
