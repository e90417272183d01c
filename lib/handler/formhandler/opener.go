package formhandler

import (
	"os"

	"partsrv/lib/mail/form"
	"partsrv/lib/utils/fs/fstore"
)

// StoreFileOpener puts form files into temporary directory of store.
type StoreFileOpener struct {
	*fstore.FStore
}

var _ form.FileOpener = StoreFileOpener{}

func (o StoreFileOpener) OpenFile() (*os.File, error) {
	return o.FStore.TempFile("upload-", "")
}
