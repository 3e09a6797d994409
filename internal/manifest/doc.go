// Package manifest persists MANIFEST.json, the catalog of one variant.
//
// Only segments listed in the manifest exist for readers; files under
// segments/ that it does not name are leftovers for reconciliation.
//
// The document records the schema version, dim, metric, index type and
// params of the variant, every published segment, whether the quantizer is
// trained, and a generation that grows by one with every committed change:
//
//	{schemaVersion, dim, metric, indexType, variant, params,
//	 segments: [{file, ids, count, ts, ...}], trained, trainInfo, generation}
//
// [Store.Update] performs read-modify-write under the variant lock and
// replaces the file atomically, so concurrent builds never lose each
// other's entries and readers never see a torn document.
package manifest
