package stronghold_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/vaultworks/stronghold"
	"github.com/vaultworks/stronghold/internal/procedures"
)

// diffStrings renders a unified diff for a mismatched plaintext assertion,
// the same way the corpus's cucumber harness reports a failed body match.
func diffStrings(name, want, got string) string {
	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	}
	text, _ := difflib.GetUnifiedDiffString(d)
	return fmt.Sprintf("%s mismatch:\n%s", name, text)
}

// TestFeatures runs every .feature file under features/ against an
// in-process Stronghold, one scenario world per feature file.
func TestFeatures(t *testing.T) {
	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	if err != nil {
		t.Fatal(err)
	}
	if len(featureFiles) == 0 {
		t.Skip("no feature files found")
	}

	for _, path := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(path), ".feature")
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			w := &world{dir: dir, clients: map[string]*stronghold.Client{}, captured: map[string][]byte{}}
			w.reset()

			suite := godog.TestSuite{
				Name:                name,
				ScenarioInitializer: w.init,
				Options: &godog.Options{
					Format: "pretty",
					Paths:  []string{path},
					Strict: true,
				},
			}
			if suite.Run() != 0 {
				t.Fail()
			}
		})
	}
}

func allBytes(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

// world holds the state a scenario's steps build up, one instance per
// feature file (godog reruns all scenarios within a file against the same
// ScenarioInitializer, so steps reset per-client state explicitly rather
// than relying on a fresh world per scenario).
type world struct {
	dir      string
	s        *stronghold.Stronghold
	clients  map[string]*stronghold.Client
	mnemonic string
	captured map[string][]byte
}

func (w *world) reset() {
	w.s = stronghold.New()
}

func (w *world) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *world) client(name string) (*stronghold.Client, error) {
	c, ok := w.clients[name]
	if !ok {
		return nil, fmt.Errorf("client %q was never created in this scenario", name)
	}
	return c, nil
}

func (w *world) aClient(name string) error {
	c, err := w.s.CreateClient(name)
	if err != nil {
		return err
	}
	w.clients[name] = c
	return nil
}

func (w *world) iGenerateAnEd25519Key(vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	loc := stronghold.NewLocation(vault, record)
	vid, rid := loc.Resolve()
	_, err = c.ExecuteProcedure(procedures.GenerateKey{
		Variant: procedures.Ed25519,
		Output:  procedures.Output{Vault: vid, Record: rid},
	})
	return err
}

func (w *world) iReadThePublicKey(vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	loc := stronghold.NewLocation(vault, record)
	vid, rid := loc.Resolve()
	out, err := c.ExecuteProcedure(procedures.PublicKey{Variant: procedures.Ed25519, Input: procedures.Input{Vault: vid, Record: rid}})
	if err != nil {
		return err
	}
	pub := out.([32]byte)
	w.captured["pub"] = append(w.captured["pub"], pub[:]...)
	return nil
}

func (w *world) theTwoPublicKeysAreByteEqual() error {
	buf := w.captured["pub"]
	if len(buf) != 64 {
		return fmt.Errorf("expected two captured 32-byte public keys, got %d bytes", len(buf))
	}
	if string(buf[:32]) != string(buf[32:]) {
		return fmt.Errorf("public keys differ across the snapshot round trip")
	}
	return nil
}

func (w *world) iWriteSecret(secret, vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	return c.Vault(vault).WriteSecret(stronghold.NewLocation(vault, record), []byte(secret))
}

func (w *world) iCommitClientUnderAllAA(clientName, file string) error {
	if err := w.s.WriteClient(clientName); err != nil {
		return err
	}
	return w.commitUnder(allBytes(0xAA), file)
}

func (w *world) iWriteClientIntoTheContainer(clientName string) error {
	return w.s.WriteClient(clientName)
}

func (w *world) iCommitTheContainerUnderAllAA(file string) error {
	return w.commitUnder(allBytes(0xAA), file)
}

func (w *world) commitUnder(raw []byte, file string) error {
	kp, err := stronghold.KeyProviderFromBytes(raw)
	if err != nil {
		return err
	}
	return w.s.Commit(w.path(file), kp)
}

func (w *world) iResetTheStronghold() error {
	w.reset()
	w.clients = map[string]*stronghold.Client{}
	return nil
}

func (w *world) iLoadClientFromUnderAllAA(clientName, file string) error {
	return w.loadUnder(clientName, file, allBytes(0xAA))
}

func (w *world) loadUnder(clientName, file string, raw []byte) error {
	kp, err := stronghold.KeyProviderFromBytes(raw)
	if err != nil {
		return err
	}
	c, err := w.s.LoadClientFromSnapshot(clientName, kp, w.path(file))
	if err != nil {
		return err
	}
	w.clients[clientName] = c
	return nil
}

func (w *world) iCorruptOneByteAtOffsetOf(offset int, file string) error {
	data, err := os.ReadFile(w.path(file))
	if err != nil {
		return err
	}
	if offset >= len(data) {
		return fmt.Errorf("offset %d out of range for a %d-byte snapshot", offset, len(data))
	}
	data[offset] ^= 0xFF
	return os.WriteFile(w.path(file), data, 0o600)
}

func (w *world) loadingClientFromUnderAllAAFailsWithKind(clientName, file, kind string) error {
	err := w.loadUnder(clientName, file, allBytes(0xAA))
	if err == nil {
		return fmt.Errorf("expected load of %q to fail with kind %q, it succeeded", clientName, kind)
	}
	if !strings.Contains(err.Error(), kind) {
		return fmt.Errorf("expected error to mention kind %q, got: %v", kind, err)
	}
	return nil
}

func (w *world) iGenerateABip39Mnemonic(lang, vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	loc := stronghold.NewLocation(vault, record)
	vid, rid := loc.Resolve()
	out, err := c.ExecuteProcedure(procedures.Bip39Generate{Lang: lang, Output: procedures.Output{Vault: vid, Record: rid}})
	if err != nil {
		return err
	}
	w.mnemonic = out.(string)
	return nil
}

func parseChain(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	chain := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		chain = append(chain, uint32(n))
	}
	return chain, nil
}

func (w *world) iDeriveSlip10Chain(chainStr, fromVault, fromRecord, toVault, toRecord, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	chain, err := parseChain(chainStr)
	if err != nil {
		return err
	}
	fromLoc := stronghold.NewLocation(fromVault, fromRecord)
	fromVid, fromRid := fromLoc.Resolve()
	toLoc := stronghold.NewLocation(toVault, toRecord)
	toVid, toRid := toLoc.Resolve()

	_, err = c.ExecuteProcedure(procedures.Slip10Derive{
		Chain:  chain,
		IsSeed: true,
		Input:  procedures.Input{Vault: fromVid, Record: fromRid},
		Output: procedures.Output{Vault: toVid, Record: toRid},
	})
	if err != nil {
		return err
	}

	var child []byte
	err = c.Vault(toVault).ReadSecret(toLoc, func(plain []byte) error {
		child = append([]byte(nil), plain...)
		return nil
	})
	if err != nil {
		return err
	}
	w.captured["child:"+clientName] = child
	return nil
}

func (w *world) iPurgeClient(clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	if err := w.s.PurgeClient(c); err != nil {
		return err
	}
	delete(w.clients, clientName)
	return nil
}

func (w *world) iRecoverTheCapturedMnemonic(vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	loc := stronghold.NewLocation(vault, record)
	vid, rid := loc.Resolve()
	_, err = c.ExecuteProcedure(procedures.Bip39Recover{Mnemonic: w.mnemonic, Output: procedures.Output{Vault: vid, Record: rid}})
	return err
}

func (w *world) theDerivedChildRecordsAreByteEqual(clientA, clientB, vault, record string) error {
	a, ok := w.captured["child:"+clientA]
	if !ok {
		return fmt.Errorf("no derived child captured for client %q", clientA)
	}
	b, ok := w.captured["child:"+clientB]
	if !ok {
		return fmt.Errorf("no derived child captured for client %q", clientB)
	}
	if string(a) != string(b) {
		return fmt.Errorf("derived child records differ between %q and %q", clientA, clientB)
	}
	return nil
}

func (w *world) iUnloadClient(clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	if err := w.s.UnloadClient(c); err != nil {
		return err
	}
	delete(w.clients, clientName)
	return nil
}

func (w *world) clientHasNoWorkingCopy(clientName string) error {
	if _, ok := w.clients[clientName]; ok {
		return fmt.Errorf("client %q has a working copy registered in this scenario", clientName)
	}
	_, err := w.s.LoadClient(clientName)
	if err == nil {
		return fmt.Errorf("expected client %q to have no working copy", clientName)
	}
	return nil
}

func (w *world) secretDecryptsAt(secret, vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	var got []byte
	err = c.Vault(vault).ReadSecret(stronghold.NewLocation(vault, record), func(plain []byte) error {
		got = append([]byte(nil), plain...)
		return nil
	})
	if err != nil {
		return err
	}
	if string(got) != secret {
		return fmt.Errorf("%s", diffStrings(fmt.Sprintf("vault %q record %q for client %q", vault, record, clientName), secret, string(got)))
	}
	return nil
}

func (w *world) iWriteTenNumberedSecrets(vault, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	v := c.Vault(vault)
	for i := 0; i < 10; i++ {
		record := fmt.Sprintf("r%d", i)
		if err := v.WriteSecret(stronghold.NewLocation(vault, record), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			return err
		}
	}
	return nil
}

func (w *world) iRevokeRecord(index int, vault, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	record := fmt.Sprintf("r%d", index)
	return c.Vault(vault).RevokeSecret(stronghold.NewLocation(vault, record))
}

func (w *world) vaultLists(vault, clientName string, count int) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	entries, err := c.Vault(vault).ListRecords()
	if err != nil {
		return err
	}
	if len(entries) != count {
		return fmt.Errorf("expected %d records, got %d", count, len(entries))
	}
	return nil
}

func (w *world) iGarbageCollect(vault, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	return c.Vault(vault).GarbageCollect()
}

func (w *world) everyRemainingRecordStillDecrypts(vault, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	v := c.Vault(vault)
	for i := 0; i < 10; i++ {
		record := fmt.Sprintf("r%d", i)
		if !v.RecordExists(stronghold.NewLocation(vault, record)) {
			continue
		}
		var got []byte
		err := v.ReadSecret(stronghold.NewLocation(vault, record), func(plain []byte) error {
			got = append([]byte(nil), plain...)
			return nil
		})
		if err != nil {
			return err
		}
		want := fmt.Sprintf("value-%d", i)
		if string(got) != want {
			return fmt.Errorf("%s", diffStrings(fmt.Sprintf("record %q", record), want, string(got)))
		}
	}
	return nil
}

func (w *world) iStoreTheAll2AKey(vault, record, clientName string) error {
	c, err := w.client(clientName)
	if err != nil {
		return err
	}
	kp, err := stronghold.KeyProviderFromBytes(allBytes(0x2A))
	if err != nil {
		return err
	}
	return w.s.StoreSnapshotKeyAtLocation(c, kp, stronghold.NewLocation(vault, record))
}

func (w *world) iCommitTheContainerWithNoExplicitKey(file string) error {
	return w.s.Commit(w.path(file), nil)
}

func (w *world) loadingClientFromUnderAll2ASucceeds(clientName, file string) error {
	return w.loadUnder(clientName, file, allBytes(0x2A))
}

func (w *world) init(ctx *godog.ScenarioContext) {
	ctx.Step(`^a client "([^"]*)"$`, w.aClient)
	ctx.Step(`^I generate an Ed25519 key at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iGenerateAnEd25519Key)
	ctx.Step(`^I read the public key at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iReadThePublicKey)
	ctx.Step(`^the two public keys are byte-equal$`, w.theTwoPublicKeysAreByteEqual)
	ctx.Step(`^I write secret "([^"]*)" at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iWriteSecret)
	ctx.Step(`^I commit client "([^"]*)" under the all-0xAA key to "([^"]*)"$`, w.iCommitClientUnderAllAA)
	ctx.Step(`^I write client "([^"]*)" into the container$`, w.iWriteClientIntoTheContainer)
	ctx.Step(`^I commit the container under the all-0xAA key to "([^"]*)"$`, w.iCommitTheContainerUnderAllAA)
	ctx.Step(`^I reset the stronghold$`, w.iResetTheStronghold)
	ctx.Step(`^I load client "([^"]*)" from "([^"]*)" under the all-0xAA key$`, w.iLoadClientFromUnderAllAA)
	ctx.Step(`^I corrupt one byte at offset (\d+) of "([^"]*)"$`, w.iCorruptOneByteAtOffsetOf)
	ctx.Step(`^loading client "([^"]*)" from "([^"]*)" under the all-0xAA key fails with kind "([^"]*)"$`, w.loadingClientFromUnderAllAAFailsWithKind)
	ctx.Step(`^I generate a BIP-39 mnemonic in "([^"]*)" with no passphrase at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iGenerateABip39Mnemonic)
	ctx.Step(`^I derive SLIP10 chain "([^"]*)" as seed from vault "([^"]*)" record "([^"]*)" to vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iDeriveSlip10Chain)
	ctx.Step(`^I purge client "([^"]*)"$`, w.iPurgeClient)
	ctx.Step(`^I recover the captured mnemonic with no passphrase at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iRecoverTheCapturedMnemonic)
	ctx.Step(`^the derived child records for client "([^"]*)" and client "([^"]*)" at vault "([^"]*)" record "([^"]*)" are byte-equal$`, w.theDerivedChildRecordsAreByteEqual)
	ctx.Step(`^I unload client "([^"]*)"$`, w.iUnloadClient)
	ctx.Step(`^client "([^"]*)" has no working copy$`, w.clientHasNoWorkingCopy)
	ctx.Step(`^secret "([^"]*)" decrypts at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.secretDecryptsAt)
	ctx.Step(`^I write 10 numbered secrets at vault "([^"]*)" for client "([^"]*)"$`, w.iWriteTenNumberedSecrets)
	ctx.Step(`^I revoke record (\d+) at vault "([^"]*)" for client "([^"]*)"$`, w.iRevokeRecord)
	ctx.Step(`^vault "([^"]*)" for client "([^"]*)" lists (\d+) records$`, w.vaultLists)
	ctx.Step(`^I garbage collect vault "([^"]*)" for client "([^"]*)"$`, w.iGarbageCollect)
	ctx.Step(`^every remaining record at vault "([^"]*)" for client "([^"]*)" still decrypts to its original value$`, w.everyRemainingRecordStillDecrypts)
	ctx.Step(`^I store the all-0x2A key at vault "([^"]*)" record "([^"]*)" for client "([^"]*)"$`, w.iStoreTheAll2AKey)
	ctx.Step(`^I commit the container with no explicit key to "([^"]*)"$`, w.iCommitTheContainerWithNoExplicitKey)
	ctx.Step(`^loading client "([^"]*)" from "([^"]*)" under the all-0x2A key succeeds$`, w.loadingClientFromUnderAll2ASucceeds)
}
